package turn

// QuorumReached reports whether every online participant has raised a ready
// flag. An empty roster never reaches quorum, so a session cannot flip to
// flagged with nobody watching it.
func QuorumReached(online []string, ready map[string]bool) bool {
	if len(online) == 0 {
		return false
	}
	for _, code := range online {
		if !ready[code] {
			return false
		}
	}
	return true
}
