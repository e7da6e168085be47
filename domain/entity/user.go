package entity

type User struct {
	ID    string `json:"id" dynamo:"id"`
	Name  string `json:"name" dynamo:"name"`
	Email string `json:"email" dynamo:"email"`
}

func (u *User) Mention() string {
	if u == nil || u.ID == "" {
		return "未設定"
	}
	return "<@" + u.ID + ">"
}
