package bufpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetReturnsFullCapacity(t *testing.T) {
	p := New(4096)

	buf := p.Get()
	assert.Len(t, buf, 4096)
	p.Put(buf)
}

func TestPutDropsForeignSizes(t *testing.T) {
	p := New(1024)

	p.Put(make([]byte, 99))
	buf := p.Get()
	assert.Len(t, buf, 1024)
}

func TestReuse(t *testing.T) {
	p := New(512)

	buf := p.Get()
	buf[0] = 0xAA
	p.Put(buf)

	// Not guaranteed by sync.Pool, but exercises the round trip.
	again := p.Get()
	assert.Equal(t, 512, cap(again))
}
