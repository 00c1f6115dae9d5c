package logger

import "sync/atomic"

// sampler lets num of every den calls through.
type sampler struct {
	num, den atomic.Int64
	n        atomic.Uint64
}

func newSampler(num, den int) *sampler {
	s := &sampler{}
	s.set(num, den)
	return s
}

func (s *sampler) set(num, den int) {
	s.num.Store(int64(num))
	s.den.Store(int64(den))
}

func (s *sampler) allow() bool {
	num, den := s.num.Load(), s.den.Load()
	if num <= 0 || den <= 0 {
		return true
	}
	if num >= den {
		return true
	}
	return int64(s.n.Add(1)%uint64(den)) < num
}
