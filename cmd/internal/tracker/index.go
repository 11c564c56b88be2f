package tracker

import "github.com/cespare/xxhash/v2"

// index is a fixed-capacity hash table with separate chaining.
// Records hash by user only, so every membership of a user shares a bucket.
// It is not safe for concurrent use; Tracker serializes access.
type index struct {
	buckets [][]Record
	size    int
}

func newIndex(n int) *index {
	return &index{buckets: make([][]Record, n)}
}

func (x *index) bucketOf(user string) int {
	return int(xxhash.Sum64String(user) % uint64(len(x.buckets)))
}

// insert prepends r to its bucket. It does not check for duplicates.
func (x *index) insert(r Record) {
	i := x.bucketOf(r.User)
	b := append(x.buckets[i], Record{})
	copy(b[1:], b)
	b[0] = r
	x.buckets[i] = b
	x.size++
}

// take removes and returns the first record matching user and chat.
func (x *index) take(user, chat string) (Record, bool) {
	i := x.bucketOf(user)
	for j, r := range x.buckets[i] {
		if r.User == user && r.Chat == chat {
			x.removeAt(i, j)
			return r, true
		}
	}
	return Record{}, false
}

// takeFirst removes and returns the first record of user in any chat.
func (x *index) takeFirst(user string) (Record, bool) {
	i := x.bucketOf(user)
	for j, r := range x.buckets[i] {
		if r.User == user {
			x.removeAt(i, j)
			return r, true
		}
	}
	return Record{}, false
}

// bump increments the first record of user in any chat and returns it.
func (x *index) bump(user string) (Record, bool) {
	b := x.buckets[x.bucketOf(user)]
	for j := range b {
		if b[j].User == user {
			b[j].Count++
			return b[j], true
		}
	}
	return Record{}, false
}

// removeChat deletes every record of chat from every bucket and returns
// the sum of their counts. Each bucket is compacted in place; the read
// cursor always runs ahead of the write cursor.
func (x *index) removeChat(chat string) int {
	total := 0
	for i, b := range x.buckets {
		kept := b[:0]
		for _, r := range b {
			if r.Chat == chat {
				total += r.Count
				continue
			}
			kept = append(kept, r)
		}
		x.size -= len(b) - len(kept)
		clear(b[len(kept):])
		x.buckets[i] = kept
	}
	return total
}

func (x *index) removeAt(i, j int) {
	b := x.buckets[i]
	copy(b[j:], b[j+1:])
	b[len(b)-1] = Record{}
	x.buckets[i] = b[:len(b)-1]
	x.size--
}

// records returns a copy of every live record in bucket order.
func (x *index) records() []Record {
	out := make([]Record, 0, x.size)
	for _, b := range x.buckets {
		out = append(out, b...)
	}
	return out
}
