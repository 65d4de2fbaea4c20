package model

// User is a backend user.
type User struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Photo    string `json:"photo,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Client is a CRM client.
type Client struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
}

// ProjectMember links a user to a project.
type ProjectMember struct {
	ID     int64 `json:"id"`
	UserID int64 `json:"user_id"`
}

// Project is a CRM project.
type Project struct {
	ID          int64           `json:"id"`
	ProjectName string          `json:"project_name"`
	Users       []ProjectMember `json:"users"`
}

// CheckListItem is one entry of a task check list.
type CheckListItem struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// Author is the creator of a task.
type Author struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
}

// Task is a CRM task.
type Task struct {
	ID            int64           `json:"id"`
	TaskID        int64           `json:"task_id"`
	ProjectID     int64           `json:"project_id"`
	Title         string          `json:"task_title"`
	Text          string          `json:"task_text"`
	StartAt       string          `json:"start_at"`
	FinishAt      *string         `json:"finish_at,omitempty"`
	TotalComments int             `json:"totalComments"`
	StatusID      int64           `json:"status_id"`
	Author        Author          `json:"author"`
	Suppliers     []ProjectMember `json:"suppliers"`
	Observers     []ProjectMember `json:"observers"`
	ClientID      int64           `json:"client_id"`
	CheckList     []CheckListItem `json:"check_list"`
	Client        *Client         `json:"client,omitempty"`
}

// Dictionary is the read-only reference snapshot served by /dictionaries.
type Dictionary struct {
	Tasks    []Task    `json:"tasks"`
	User     User      `json:"user"`
	Projects []Project `json:"projects"`
	Users    []User    `json:"users"`
	Clients  []Client  `json:"clients"`
}

// UserByID looks up a user in the snapshot.
func (d *Dictionary) UserByID(id int64) (User, bool) {
	if d == nil {
		return User{}, false
	}
	for _, u := range d.Users {
		if u.ID == id {
			return u, true
		}
	}
	return User{}, false
}
