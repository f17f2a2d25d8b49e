package httpapi

const defaultReplayFrames = 500

// frameLog numbers the encoded frames the hub broadcasts and retains the
// most recent ones, so a client reconnecting with its last seen sequence
// number can be sent just what it missed. Sequence numbers start at 1 and
// have no gaps, which makes the slot of a frame seq-1 modulo the capacity.
//
// Not safe for concurrent use; the hub guards it with its mutex.
type frameLog struct {
	slots [][]byte
	last  int64 // seq of the newest frame, 0 while empty
}

func newFrameLog(capacity int) *frameLog {
	if capacity <= 0 {
		capacity = defaultReplayFrames
	}
	return &frameLog{slots: make([][]byte, capacity)}
}

// next is the seq the next appended frame will carry.
func (l *frameLog) next() int64 { return l.last + 1 }

// append retains data as frame next(), evicting the oldest frame when
// full. data is kept, not copied.
func (l *frameLog) append(data []byte) int64 {
	l.last++
	l.slots[l.slot(l.last)] = data
	return l.last
}

// oldest is the lowest retained seq, 0 while empty.
func (l *frameLog) oldest() int64 {
	if l.last == 0 {
		return 0
	}
	if n := int64(len(l.slots)); l.last > n {
		return l.last - n + 1
	}
	return 1
}

// since returns the frames after seq, oldest first. ok is false when seq
// is ahead of the log or some of the frames after it were evicted.
func (l *frameLog) since(seq int64) (frames [][]byte, ok bool) {
	if seq < 0 || seq > l.last || seq+1 < l.oldest() {
		return nil, false
	}
	frames = make([][]byte, 0, l.last-seq)
	for s := seq + 1; s <= l.last; s++ {
		frames = append(frames, l.slots[l.slot(s)])
	}
	return frames, true
}

func (l *frameLog) slot(seq int64) int { return int((seq - 1) % int64(len(l.slots))) }
