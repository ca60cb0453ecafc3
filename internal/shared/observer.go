package shared

// TransitionObserver receives committed document status changes.
type TransitionObserver interface {
	ObserveTransition(entity, from, to string)
}
