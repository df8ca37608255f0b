package conn

import "github.com/nodekv/ckv/internal/errs"

type queuedWrite struct {
	idx     uint64
	payload []byte
}

// enqueueWrite appends to the pending write batch; if no drain is
// currently running, it starts one, and appends made while a drain is
// in flight ride the next drain. This is the one place outbound bytes
// reach the socket, which is what guarantees ordered submission and
// coalesces small writes under load.
func (c *Connection) enqueueWrite(idx uint64, payload []byte) {
	c.writeMu.Lock()
	c.writeQueued = append(c.writeQueued, queuedWrite{idx: idx, payload: payload})
	shouldDrain := len(c.writeQueued) == 1
	c.writeMu.Unlock()

	if shouldDrain {
		go c.drainWrites()
	}
}

func (c *Connection) drainWrites() {
	c.writeDrainer.Lock()
	defer c.writeDrainer.Unlock()

	for {
		c.writeMu.Lock()
		batch := c.writeQueued
		c.writeQueued = nil
		c.writeMu.Unlock()

		if len(batch) == 0 {
			return
		}

		c.orderMu.Lock()
		for _, qw := range batch {
			if _, err := c.bw.Write(qw.payload); err != nil {
				c.orderMu.Unlock()
				c.fail(errs.Wrap(errs.KindConnection, "write failed", err))
				return
			}
			c.order = append(c.order, qw.idx)
		}
		if err := c.bw.Flush(); err != nil {
			c.orderMu.Unlock()
			c.fail(errs.Wrap(errs.KindConnection, "flush failed", err))
			return
		}
		c.orderMu.Unlock()
	}
}
