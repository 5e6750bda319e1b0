package valueobject

const (
	UserTypeRegistered = "registered"
	UserTypeAnonymous  = "anonymous"
)

// User 用户值对象（不可变）
type User struct {
	id       string
	username string
	userType string
}

// NewUser 创建用户值对象
func NewUser(id, username, userType string) User {
	return User{
		id:       id,
		username: username,
		userType: userType,
	}
}

// NewRegisteredUser 创建已登录用户
func NewRegisteredUser(id, username string) User {
	return NewUser(id, username, UserTypeRegistered)
}

// AnonymousUser 匿名访客
func AnonymousUser() User {
	return NewUser("", "", UserTypeAnonymous)
}

// ID 返回用户ID
func (u User) ID() string {
	return u.id
}

// Username 返回用户名
func (u User) Username() string {
	return u.username
}

// Type 返回用户类型
func (u User) Type() string {
	return u.userType
}

// IsAnonymous 判断是否匿名用户（无 ID 也视为匿名）
func (u User) IsAnonymous() bool {
	return u.userType == UserTypeAnonymous || u.id == ""
}
