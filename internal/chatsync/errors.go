package chatsync

// SubmitError is returned when a message could not be sent. Content is the text
// the user submitted so the composer can be restored; the timeline is unchanged.
type SubmitError struct {
	Content string
	Err     error
}

func (e *SubmitError) Error() string {
	return "send message: " + e.Err.Error()
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}
