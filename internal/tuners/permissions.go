package tuners

// CanEditRecord reports whether user may edit or delete tuner: the author or any admin.
func CanEditRecord(tuner Tuner, user Identity) bool {
	if !user.Authenticated() {
		return false
	}
	return user.ID == tuner.AuthorID || user.IsAdmin
}

// CanEditComment reports whether user may delete comment: the commenter or any admin.
func CanEditComment(comment Comment, user Identity) bool {
	if !user.Authenticated() {
		return false
	}
	return user.ID == comment.UserID || user.IsAdmin
}
