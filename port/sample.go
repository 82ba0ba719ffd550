// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package port

import "code.hybscloud.com/shmipc"

// Sample is a borrowed, read-only view of one bucket in a publisher's data
// segment, handed to the caller by Subscriber.Receive (spec §4.7). Release
// must be called exactly once; it pushes the bucket's offset back onto the
// owning connection's retrieve queue so the publisher can reclaim it.
//
// Under the sizing rule of spec §5 (retrieve queue capacity equals
// subscriber_buffer_size+subscriber_max_borrowed_samples, the same bound
// Subscriber enforces on outstanding Samples) the retrieve push cannot
// overflow; if it ever does, that is a violated invariant, not a runtime
// condition to recover from.
type Sample struct {
	sub    *Subscriber
	peer   *subConn
	offset uint64
	data   []byte

	released bool
}

// Payload returns the sample's bytes. Valid until Release.
func (s *Sample) Payload() []byte { return s.data }

// Release returns the sample to its publisher.
func (s *Sample) Release() {
	if s.released {
		return
	}
	s.released = true
	s.sub.borrowed--

	if err := s.peer.retrieveProducer.Push(s.offset); err != nil {
		shmipc.Abort(err)
	}
}
