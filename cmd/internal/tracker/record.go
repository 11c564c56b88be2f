package tracker

// Record is one user's membership in one chat and the number of
// contributions made since the membership was (re-)joined.
type Record struct {
	User  string
	Chat  string
	Count int
}

// Contribution is the outcome of a successful Contribute call.
type Contribution struct {
	// Chat is the membership that was credited.
	Chat string
	// Count is the membership's count after the increment.
	Count int
}

// Stats is a point-in-time view of tracker occupancy.
type Stats struct {
	Buckets  int
	Live     int
	Departed int
}
