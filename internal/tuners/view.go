package tuners

// TunerView is a tuner decorated with the viewer specific flags a renderer needs.
type TunerView struct {
	Tuner
	Comments []CommentView `json:"comments"`
	CanEdit  bool          `json:"canEdit"`
	Liked    bool          `json:"liked"`
}

// CommentView is a comment decorated with the viewer's delete permission.
type CommentView struct {
	Comment
	CanEdit bool `json:"canEdit"`
}

// ViewTuners decorates tuners for viewer. When sanitize is set, image links in
// prompts are replaced by a placeholder.
func ViewTuners(tuners []Tuner, viewer Identity, likes IDSet, sanitize bool) []TunerView {
	views := make([]TunerView, 0, len(tuners))
	for _, tuner := range tuners {
		views = append(views, ViewTuner(tuner, viewer, likes, sanitize))
	}
	return views
}

// ViewTuner decorates a single tuner for viewer.
func ViewTuner(tuner Tuner, viewer Identity, likes IDSet, sanitize bool) TunerView {
	if sanitize {
		tuner.Prompt = SanitizePrompt(tuner.Prompt)
	}
	return TunerView{
		Tuner:    tuner,
		Comments: ViewComments(tuner.Comments, viewer),
		CanEdit:  CanEditRecord(tuner, viewer),
		Liked:    likes.Has(tuner.ID),
	}
}

// ViewComments decorates comments for viewer.
func ViewComments(comments []Comment, viewer Identity) []CommentView {
	views := make([]CommentView, 0, len(comments))
	for _, comment := range comments {
		views = append(views, CommentView{Comment: comment, CanEdit: CanEditComment(comment, viewer)})
	}
	return views
}
