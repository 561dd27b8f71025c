package models

import "time"

// Platform roles, lowest privilege first
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// Teacher approval states
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// rolePermissions is the fixed role -> permission-list table used to build
// session claims. Unknown roles fall back to the student set.
var rolePermissions = map[string][]string{
	RoleStudent: {
		"courses:browse",
		"courses:enroll",
		"assignments:submit",
		"profile:edit",
	},
	RoleTeacher: {
		"courses:browse",
		"courses:create",
		"courses:manage",
		"assignments:grade",
		"students:view",
		"profile:edit",
	},
	RoleAdmin: {
		"courses:browse",
		"courses:create",
		"courses:manage",
		"assignments:grade",
		"students:view",
		"users:manage",
		"platform:configure",
		"profile:edit",
	},
}

// PermissionsForRole returns a copy of the permission list for a role
func PermissionsForRole(role string) []string {
	perms, ok := rolePermissions[role]
	if !ok {
		perms = rolePermissions[RoleStudent]
	}
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}

// Profile is the local account record keyed by the identity provider's
// account id. Created on first successful login, updated on every one after.
type Profile struct {
	AccountID     string     `db:"account_id"`
	Email         string     `db:"email"`
	FirstName     string     `db:"first_name"`
	LastName      string     `db:"last_name"`
	Role          string     `db:"role"`
	EmailVerified bool       `db:"email_verified"`
	AvatarURL     *string    `db:"avatar_url"`
	LastLoginAt   *time.Time `db:"last_login_at"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`

	Student *StudentProfile
	Teacher *TeacherProfile
}

// StudentProfile is the role-specific sub-profile for students
type StudentProfile struct {
	AccountID     string  `db:"account_id"`
	GradeLevel    *string `db:"grade_level"`
	Interests     *string `db:"interests"`
	CompletionPct int     `db:"completion_pct"`
}

// TeacherProfile is the role-specific sub-profile for teachers
type TeacherProfile struct {
	AccountID      string  `db:"account_id"`
	ApprovalStatus string  `db:"approval_status"`
	Bio            *string `db:"bio"`
	Subjects       *string `db:"subjects"`
}

// IsComplete computes the derived profile-completeness flag. Students are
// complete once their completion percentage meets the threshold; teachers
// once approved; admins always.
func (p *Profile) IsComplete(studentThreshold int) bool {
	switch p.Role {
	case RoleAdmin:
		return true
	case RoleTeacher:
		return p.Teacher != nil && p.Teacher.ApprovalStatus == ApprovalApproved
	case RoleStudent:
		return p.Student != nil && p.Student.CompletionPct >= studentThreshold
	default:
		return false
	}
}

// ProfileUpdate is the patch applied to an existing profile on each
// successful login. Nil fields are left untouched.
type ProfileUpdate struct {
	EmailVerified *bool
	LastLoginAt   *time.Time
	AvatarURL     *string
}

// SessionClaims is the derived authorization payload pushed into the
// identity provider's session-claims store after reconciliation.
type SessionClaims struct {
	Role            string   `json:"role"`
	Permissions     []string `json:"permissions"`
	ProfileID       string   `json:"profile_id"`
	ProfileComplete bool     `json:"profile_complete"`
	EmailVerified   bool     `json:"email_verified"`
}
