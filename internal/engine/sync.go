package engine

// revisions orders answer submissions per question. Every selection change
// and every submission bumps the question's revision; a completion only
// applies if nothing happened to its question since it was issued.
type revisions map[string]uint64

func (r revisions) bump(qid string) uint64 {
	r[qid]++
	return r[qid]
}

func (r revisions) current(qid string, rev uint64) bool {
	return r[qid] == rev
}

// submission is one in-flight answer save.
type submission struct {
	examID   string
	qid      string
	idx      int
	rev      uint64
	selected []string
}
