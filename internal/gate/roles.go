package gate

// Roles are a fixed set. Platform operators are never subscription-scoped;
// the two subscription roles always carry subscription and user claims.
const (
	RolePlatformOperator  = "platform_operator"
	RoleSubscriptionAdmin = "subscription_admin"
	RoleSubscriptionUser  = "subscription_user"
)

// ValidRole reports whether the role belongs to the fixed set.
func ValidRole(role string) bool {
	switch role {
	case RolePlatformOperator, RoleSubscriptionAdmin, RoleSubscriptionUser:
		return true
	}
	return false
}
