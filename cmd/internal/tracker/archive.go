package tracker

// archive keeps departed memberships in departure order.
type archive struct {
	recs []Record
}

func (a *archive) append(r Record) {
	a.recs = append(a.recs, r)
}

// removeChat deletes every record of chat and returns the sum of their
// counts. Remaining records keep their relative order.
func (a *archive) removeChat(chat string) int {
	total := 0
	kept := a.recs[:0]
	for _, r := range a.recs {
		if r.Chat == chat {
			total += r.Count
			continue
		}
		kept = append(kept, r)
	}
	clear(a.recs[len(kept):])
	a.recs = kept
	return total
}

func (a *archive) len() int { return len(a.recs) }

func (a *archive) records() []Record {
	return append([]Record(nil), a.recs...)
}
