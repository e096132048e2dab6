package user

// Repository defines persistence operations for users.
type Repository interface {
	GetByID(id int) (User, error)
	GetByEmail(email string) (User, error)
	Create(u User) (User, error)
}
