package models

import "time"

// PostDeleted replaces the title and content of a soft-deleted post.
const PostDeleted = "Post has been deleted...!"

// DefaultPageSize is used when a query does not set a limit.
const DefaultPageSize = 10

// Identity is the authenticated account as reported by the identity service.
type Identity struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	Token string `json:"token,omitempty"`
}

// User is both the registration draft and the stored profile document.
// Password only ever travels in a draft; it is stripped before storage.
type User struct {
	UID      string `json:"uid,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
	Name     string `json:"name,omitempty"`
	Nickname string `json:"nickname,omitempty"`
	Gender   string `json:"gender,omitempty"`
	Birthday string `json:"birthday,omitempty"`
	Mobile   string `json:"mobile,omitempty"`
}

type Post struct {
	ID              string     `json:"id"`
	Category        string     `json:"category"`
	Title           string     `json:"title"`
	Content         string     `json:"content"`
	UID             string     `json:"uid"`
	Delete          bool       `json:"delete"`
	TimestampCreate time.Time  `json:"timestamp_create"`
	TimestampUpdate *time.Time `json:"timestamp_update,omitempty"`
}

// PostCreate needs Category and UID; the backend rejects it otherwise.
type PostCreate struct {
	Category string `json:"category"`
	UID      string `json:"uid"`
	Title    string `json:"title,omitempty"`
	Content  string `json:"content,omitempty"`
}

// PostUpdate is a partial update; nil fields are left untouched.
type PostUpdate struct {
	Category *string `json:"category,omitempty"`
	Title    *string `json:"title,omitempty"`
	Content  *string `json:"content,omitempty"`
	Delete   *bool   `json:"delete,omitempty"`
}

// PostQuery selects a page of posts in one category.
type PostQuery struct {
	Category string `json:"category"`
	Limit    int    `json:"limit,omitempty"`
	// Page and UID are accepted for compatibility but do not shape the query.
	Page int    `json:"page,omitempty"`
	UID  string `json:"uid,omitempty"`
}
