package status

// IsVisible reports whether judgeID sees the submission in their working set.
func IsVisible(record SubmissionStatus, judgeID string) bool {
	return record.State != StateCompleted || record.Owner() == judgeID
}

// IsEditable reports whether judgeID may score or transition the submission.
func IsEditable(record SubmissionStatus, judgeID string) bool {
	if record.State != StateCompleted {
		return true
	}
	return record.Owner() != "" && record.Owner() == judgeID
}

type decision struct {
	next  State
	owner string
	noop  bool
}

// decide resolves action against the observed state. It never touches storage.
func decide(action Action, current SubmissionStatus, judgeID string) (decision, error) {
	owner := current.Owner()
	switch action {
	case ActionMarkComplete:
		if current.State == StateCompleted {
			if owner == judgeID {
				return decision{next: StateCompleted, owner: owner, noop: true}, nil
			}
			return decision{}, ErrAlreadyOwned
		}
		return decision{next: StateCompleted, owner: judgeID}, nil
	case ActionReopen:
		if current.State != StateCompleted || owner != judgeID {
			return decision{}, ErrNotOwner
		}
		return decision{next: StatePending}, nil
	case ActionSkip:
		if current.State == StateCompleted {
			return decision{}, ErrAlreadyOwned
		}
		return decision{next: StateSkip, noop: current.State == StateSkip}, nil
	case ActionResume:
		if current.State == StateCompleted {
			return decision{}, ErrAlreadyOwned
		}
		return decision{next: StatePending, noop: current.State == StatePending}, nil
	default:
		return decision{}, errUnknownAction
	}
}
