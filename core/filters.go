package core

import (
	"strconv"

	"github.com/cosimrt/corekit/action"
	"github.com/cosimrt/corekit/cfg"
	"github.com/cosimrt/corekit/filter"
	"github.com/cosimrt/corekit/ids"
	"github.com/cosimrt/corekit/simtime"
)

// pendingFilterSend is one outbound message suspended mid-way through its
// source filter chain on a remote stage (spec §4.7): everything needed to
// resume the walk when the owning core's FILTER_RESULT comes back.
type pendingFilterSend struct {
	srcGlobal  ids.GlobalFederateID
	srcHandle  ids.InterfaceHandle
	dst        ids.GlobalHandle
	destName   string // set instead of dst for a name-addressed send
	chain      []*filter.Record
	idx        int
	payload    []byte
	actionTime simtime.Time
}

// pendingDelivery is one inbound message suspended on a remote destination
// filter, with the receiving federate's time blocked until the round trip
// completes (spec §4.7's TIME_BLOCK/TIME_UNBLOCK).
type pendingDelivery struct {
	msg  action.ActionMessage
	next int
}

// runSourceChain walks msg's organized source filter chain from ps.idx,
// applying local stages in place and suspending on a remote stage: a remote
// stage in the middle of the chain round-trips via
// CMD_SEND_FOR_FILTER_AND_RETURN (the walk resumes in handleFilterResult);
// a remote final stage sends CMD_SEND_FOR_FILTER and lets the owning core
// forward the result onward itself — the "last stage omits the AND_RETURN"
// rule of spec §4.7.
func (c *Core) runSourceChain(ps *pendingFilterSend) {
	for ps.idx < len(ps.chain) {
		r := ps.chain[ps.idx]
		if r.IsRemote() {
			// A name-addressed send can't use the forward-directly shortcut:
			// the owning core has no way to resolve the name itself.
			last := ps.idx == len(ps.chain)-1 && ps.destName == ""
			if last {
				req := filter.BuildSendForFilter(r.Remote.Federate, r.Remote.Handle, ps.payload, uint16(ps.idx), false, false)
				req.SourceID = ps.srcGlobal
				req.SourceHandle = ps.srcHandle
				req.ActionTime = ps.actionTime
				req.StringData = []string{
					strconv.FormatInt(int64(ps.dst.Federate), 10),
					strconv.FormatInt(int64(ps.dst.Handle), 10),
				}
				c.transmitToParent(req)
				return
			}
			id := c.nextMsgID.Add(1)
			c.mu.Lock()
			c.pendingSends[id] = ps
			c.ongoingFilters[ps.srcGlobal]++
			c.mu.Unlock()

			req := filter.BuildSendForFilter(r.Remote.Federate, r.Remote.Handle, ps.payload, uint16(ps.idx), true, false)
			req.MessageID = id
			req.SourceID = c.self
			req.SourceHandle = ps.srcHandle
			req.ActionTime = ps.actionTime
			c.transmitToParent(req)
			return
		}
		if r.Cloning {
			if r.Op != nil {
				if forked, keep := r.Op.Apply(ps.payload); keep {
					for _, target := range r.DeliveryTargets {
						clone := action.New(action.CmdSendMessage)
						clone.Flags = clone.Flags.Set(action.FlagFilterProcessed)
						clone.SourceID = ps.srcGlobal
						clone.SourceHandle = ps.srcHandle
						clone.DestID = target.Federate
						clone.DestHandle = target.Handle
						clone.ActionTime = ps.actionTime
						clone.Payload = forked
						c.routeOrDeliver(clone)
					}
				}
			}
			ps.idx++
			continue
		}
		if r.Op == nil {
			// An attached filter with no operator installed yet passes the
			// message through untouched rather than dropping traffic on a
			// setup race.
			ps.idx++
			continue
		}
		if to, ok := r.Op.(filter.TimedOperator); ok {
			out, newTime, keep := to.ApplyAt(ps.payload, ps.actionTime)
			if !keep {
				return
			}
			ps.payload, ps.actionTime = out, newTime
			ps.idx++
			continue
		}
		out, keep := r.Op.Apply(ps.payload)
		if !keep {
			return
		}
		ps.payload = out
		ps.idx++
	}

	final := action.New(action.CmdSendMessage)
	final.Flags = final.Flags.Set(action.FlagFilterProcessed)
	final.SourceID = ps.srcGlobal
	final.SourceHandle = ps.srcHandle
	final.ActionTime = ps.actionTime
	final.Payload = ps.payload
	if ps.destName != "" {
		final.StringData = []string{ps.destName}
		c.transmitToParent(final)
		return
	}
	final.DestID = ps.dst.Federate
	final.DestHandle = ps.dst.Handle
	c.routeOrDeliver(final)
}

// routeOrDeliver short-circuits a message whose destination federate is
// hosted by this very core onto the local queue; everything else goes up
// the parent route for ordinary destination-id routing (spec §4.3).
func (c *Core) routeOrDeliver(m action.ActionMessage) {
	if _, local := c.federateByGlobal(m.DestID); local {
		c.enqueue(m)
		return
	}
	c.transmitToParent(m)
}

// handleSendForFilter services a filter request arriving from another core
// (spec §4.7): this core owns the filter named by m.DestHandle, runs its
// operator, and either replies (AND_RETURN forms) or forwards the result
// onward itself (terminal CMD_SEND_FOR_FILTER). A request for a filter
// this core doesn't recognize, or one with no operator installed, is
// answered with the null form so the requester never hangs — the reference
// implementation's "odd condition" asserts are logged and dropped instead
// (spec §9).
func (c *Core) handleSendForFilter(m action.ActionMessage, andReturn, dest bool) {
	c.mu.Lock()
	rec, known := c.localFilterRecords[m.DestHandle]
	c.mu.Unlock()
	var (
		out     []byte
		newTime = m.ActionTime
		keep    bool
	)
	switch {
	case !known || rec.Op == nil:
		cfg.Warnf("core %s: filter request for unknown/uninstalled filter %d, dropping", c.name, m.DestHandle)
		keep = false
	default:
		if to, ok := rec.Op.(filter.TimedOperator); ok {
			out, newTime, keep = to.ApplyAt(m.Payload, m.ActionTime)
		} else {
			out, keep = rec.Op.Apply(m.Payload)
		}
	}

	if andReturn {
		var kind action.MessageKind
		switch {
		case keep && dest:
			kind = action.CmdDestFilterResult
		case keep:
			kind = action.CmdFilterResult
		case dest:
			kind = action.CmdNullDestMessage
		default:
			kind = action.CmdNullMessage
		}
		reply := action.New(kind)
		reply.MessageID = m.MessageID
		reply.Counter = m.Counter
		reply.SourceID = c.self
		reply.DestID = m.SourceID
		reply.ActionTime = newTime
		reply.Payload = out
		c.transmitToParent(reply)
		return
	}

	if !keep {
		return
	}
	if len(m.StringData) < 2 {
		cfg.Warnf("core %s: terminal filter request missing destination, dropping", c.name)
		return
	}
	destFed, err1 := strconv.ParseInt(m.StringData[0], 10, 64)
	destHandle, err2 := strconv.ParseInt(m.StringData[1], 10, 32)
	if err1 != nil || err2 != nil {
		cfg.Warnf("core %s: terminal filter request carries malformed destination, dropping", c.name)
		return
	}
	fwd := action.New(action.CmdSendMessage)
	fwd.Flags = fwd.Flags.Set(action.FlagFilterProcessed)
	fwd.SourceID = m.SourceID
	fwd.SourceHandle = m.SourceHandle
	fwd.DestID = ids.GlobalFederateID(destFed)
	fwd.DestHandle = ids.InterfaceHandle(destHandle)
	fwd.ActionTime = newTime
	fwd.Payload = out
	c.routeOrDeliver(fwd)
}

// handleFilterResult resumes a source chain walk suspended on a remote
// stage: the transformed payload (and possibly shifted action time) slots
// back in and the remaining stages run.
func (c *Core) handleFilterResult(m action.ActionMessage) {
	ps := c.takePendingSend(m.MessageID)
	if ps == nil {
		return
	}
	ps.payload = m.Payload
	if m.ActionTime > ps.actionTime {
		ps.actionTime = m.ActionTime
	}
	ps.idx++
	c.runSourceChain(ps)
	c.settleFilterReturn(ps.srcGlobal)
}

// handleNullFilterResult drops a message a remote source filter rejected.
func (c *Core) handleNullFilterResult(m action.ActionMessage) {
	ps := c.takePendingSend(m.MessageID)
	if ps == nil {
		return
	}
	c.settleFilterReturn(ps.srcGlobal)
}

func (c *Core) takePendingSend(id int32) *pendingFilterSend {
	c.mu.Lock()
	defer c.mu.Unlock()
	ps, ok := c.pendingSends[id]
	if !ok {
		return nil
	}
	delete(c.pendingSends, id)
	return ps
}

// settleFilterReturn decrements the sender's outstanding-filter count and,
// once it reaches zero, releases the timing commands stashed while the
// round trip was in flight (spec §4.5: "timing commands from a local
// federate that has ongoing filter processes are stashed in a per-federate
// delayed list and re-issued when the filter return arrives").
func (c *Core) settleFilterReturn(src ids.GlobalFederateID) {
	c.mu.Lock()
	if c.ongoingFilters[src] > 0 {
		c.ongoingFilters[src]--
	}
	var stashed []action.ActionMessage
	if c.ongoingFilters[src] == 0 {
		stashed = c.delayedTiming[src]
		delete(c.delayedTiming, src)
	}
	c.mu.Unlock()
	for _, dm := range stashed {
		c.transmitToParent(dm)
	}
	if fed, ok := c.federateByGlobal(src); ok {
		c.retryGrant(fed)
	}
}

// handleSendMessage delivers a CMD_SEND_MESSAGE to a local endpoint,
// applying that endpoint's destination filter chain first (spec §4.7).
func (c *Core) handleSendMessage(m action.ActionMessage) {
	c.deliverMessage(m, 0)
}

// deliverMessage walks m's destination filter chain from startIdx: local
// stages apply in place (a non-cloning filter may replace the payload and,
// via filter.TimedOperator, shift the action time — the 0.5s-delay
// scenario of spec §8(d)); cloning stages fork a copy to each delivery
// target without touching the original; a remote stage blocks the
// receiving federate's time (CMD_TIME_BLOCK) and round-trips
// CMD_SEND_FOR_DEST_FILTER_AND_RETURN to the owning core, resuming in
// handleDestFilterResult.
func (c *Core) deliverMessage(m action.ActionMessage, startIdx int) {
	if _, ok := c.federateByGlobal(m.DestID); !ok {
		return
	}
	chain := c.destFilterChain(m.DestHandle)
	for i := startIdx; i < len(chain); i++ {
		r := chain[i]
		if r.IsRemote() {
			id := c.nextMsgID.Add(1)
			c.mu.Lock()
			c.pendingDeliveries[id] = &pendingDelivery{msg: m, next: i + 1}
			c.mu.Unlock()
			c.applyTimeBlock(c.blocker.Block(m.DestID, id))

			req := action.New(action.CmdSendForDestFilterAndReturn)
			req.MessageID = id
			req.SourceID = c.self
			req.SourceHandle = m.SourceHandle
			req.DestID = r.Remote.Federate
			req.DestHandle = r.Remote.Handle
			req.Counter = uint16(i)
			req.ActionTime = m.ActionTime
			req.Payload = m.Payload
			c.transmitToParent(req)
			return
		}
		if r.Cloning {
			if r.Op == nil {
				continue
			}
			if forked, keep := r.Op.Apply(m.Payload); keep {
				source := ids.GlobalHandle{Federate: m.SourceID, Handle: m.SourceHandle}
				for _, target := range r.DeliveryTargets {
					c.deliverToEndpoint(target, source, m.ActionTime, forked)
				}
			}
			continue
		}
		if r.Op == nil {
			continue
		}
		if to, ok := r.Op.(filter.TimedOperator); ok {
			out, newTime, keep := to.ApplyAt(m.Payload, m.ActionTime)
			if !keep {
				return
			}
			m.Payload, m.ActionTime = out, newTime
			continue
		}
		out, keep := r.Op.Apply(m.Payload)
		if !keep {
			return
		}
		m.Payload = out
	}
	c.deliverToEndpoint(
		ids.GlobalHandle{Federate: m.DestID, Handle: m.DestHandle},
		ids.GlobalHandle{Federate: m.SourceID, Handle: m.SourceHandle},
		m.ActionTime, m.Payload,
	)
}

// handleDestFilterResult resumes a delivery suspended on a remote
// destination filter: the (possibly transformed, possibly time-shifted)
// message continues through any remaining stages and the receiver's time
// block is released (spec §4.7).
func (c *Core) handleDestFilterResult(m action.ActionMessage) {
	pd := c.takePendingDelivery(m.MessageID)
	if pd == nil {
		return
	}
	pd.msg.Payload = m.Payload
	pd.msg.ActionTime = m.ActionTime
	c.releaseTimeBlock(pd.msg.DestID, m.MessageID)
	c.deliverMessage(pd.msg, pd.next)
}

// handleNullDestResult drops a delivery a remote destination filter
// rejected, releasing the receiver's time block.
func (c *Core) handleNullDestResult(m action.ActionMessage) {
	pd := c.takePendingDelivery(m.MessageID)
	if pd == nil {
		return
	}
	c.releaseTimeBlock(pd.msg.DestID, m.MessageID)
}

func (c *Core) takePendingDelivery(id int32) *pendingDelivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	pd, ok := c.pendingDeliveries[id]
	if !ok {
		return nil
	}
	delete(c.pendingDeliveries, id)
	return pd
}

// applyTimeBlock records a TIME_BLOCK against its destination federate;
// grants for that federate are withheld until every recorded block has
// been released (spec §4.7, §8 scenario d).
func (c *Core) applyTimeBlock(m action.ActionMessage) {
	c.mu.Lock()
	set, ok := c.timeBlocks[m.DestID]
	if !ok {
		set = make(map[int32]struct{})
		c.timeBlocks[m.DestID] = set
	}
	set[m.MessageID] = struct{}{}
	c.mu.Unlock()
}

func (c *Core) releaseTimeBlock(dest ids.GlobalFederateID, id int32) {
	if unblock, ok := c.blocker.Release(dest, id); ok {
		c.handleTimeUnblock(unblock)
		return
	}
	// No Blocker entry: the block arrived over the wire rather than from
	// this core's own delivery path.
	m := action.New(action.CmdTimeUnblock)
	m.DestID = dest
	m.MessageID = id
	c.handleTimeUnblock(m)
}

// handleTimeBlock and handleTimeUnblock apply the wire forms of the
// destination-filter time fence; the local delivery path calls the same
// functions directly so both entry points share one bookkeeping table.
func (c *Core) handleTimeBlock(m action.ActionMessage) {
	c.applyTimeBlock(m)
}

func (c *Core) handleTimeUnblock(m action.ActionMessage) {
	c.mu.Lock()
	if set, ok := c.timeBlocks[m.DestID]; ok {
		delete(set, m.MessageID)
		if len(set) == 0 {
			delete(c.timeBlocks, m.DestID)
		}
	}
	c.mu.Unlock()
	if fed, ok := c.federateByGlobal(m.DestID); ok {
		c.retryGrant(fed)
	}
}
