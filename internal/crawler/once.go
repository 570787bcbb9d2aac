package crawler

import "sync/atomic"

// onceString is a write-once cell; the first Set wins.
type onceString struct {
	v atomic.Pointer[string]
}

func (o *onceString) Set(s string) bool {
	return o.v.CompareAndSwap(nil, &s)
}

func (o *onceString) Get() (string, bool) {
	p := o.v.Load()
	if p == nil {
		return "", false
	}
	return *p, true
}
