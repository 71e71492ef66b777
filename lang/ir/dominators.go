// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package ir

import (
	mapset "github.com/deckarep/golang-set"
)

// DomTree is the dominator tree of the blocks reachable from the entry.
type DomTree struct {
	order    []*BasicBlock // reverse postorder
	postNum  map[*BasicBlock]int
	idom     map[*BasicBlock]*BasicBlock
	children map[*BasicBlock][]*BasicBlock
}

// ComputeDominators builds the dominator tree of fn using the iterative
// algorithm of Cooper, Harvey and Kennedy.
func ComputeDominators(fn *Function) *DomTree {
	d := &DomTree{
		postNum:  make(map[*BasicBlock]int),
		idom:     make(map[*BasicBlock]*BasicBlock),
		children: make(map[*BasicBlock][]*BasicBlock),
	}
	entry := fn.Entry()
	if entry == nil {
		return d
	}
	post := postorder(entry)
	for i, bb := range post {
		d.postNum[bb] = i
	}
	d.order = make([]*BasicBlock, len(post))
	for i, bb := range post {
		d.order[len(post)-1-i] = bb
	}
	preds := reachablePreds(d.order, d.postNum)

	d.idom[entry] = entry
	for changed := true; changed; {
		changed = false
		for _, bb := range d.order[1:] {
			var newIdom *BasicBlock
			for _, p := range preds[bb] {
				if _, done := d.idom[p]; !done {
					continue
				}
				if newIdom == nil {
					newIdom = p
				} else {
					newIdom = d.intersect(p, newIdom)
				}
			}
			if newIdom != nil && d.idom[bb] != newIdom {
				d.idom[bb] = newIdom
				changed = true
			}
		}
	}
	for _, bb := range d.order[1:] {
		parent := d.idom[bb]
		d.children[parent] = append(d.children[parent], bb)
	}
	return d
}

func (d *DomTree) intersect(a, b *BasicBlock) *BasicBlock {
	for a != b {
		for d.postNum[a] < d.postNum[b] {
			a = d.idom[a]
		}
		for d.postNum[b] < d.postNum[a] {
			b = d.idom[b]
		}
	}
	return a
}

// Order returns the reachable blocks in reverse postorder.
func (d *DomTree) Order() []*BasicBlock { return d.order }

// Reachable reports whether bb can be reached from the entry block.
func (d *DomTree) Reachable(bb *BasicBlock) bool {
	_, ok := d.postNum[bb]
	return ok
}

// IDom returns the immediate dominator of bb. The entry block and unreachable
// blocks have none.
func (d *DomTree) IDom(bb *BasicBlock) *BasicBlock {
	p := d.idom[bb]
	if p == bb {
		return nil
	}
	return p
}

// Children returns the blocks immediately dominated by bb.
func (d *DomTree) Children(bb *BasicBlock) []*BasicBlock { return d.children[bb] }

// Dominates reports whether a dominates b. Every reachable block dominates
// itself.
func (d *DomTree) Dominates(a, b *BasicBlock) bool {
	if !d.Reachable(a) || !d.Reachable(b) {
		return false
	}
	for {
		if a == b {
			return true
		}
		p := d.idom[b]
		if p == b {
			return false
		}
		b = p
	}
}

// postorder walks the CFG from entry without recursion.
func postorder(entry *BasicBlock) []*BasicBlock {
	type item struct {
		bb   *BasicBlock
		next int
	}
	var (
		out     []*BasicBlock
		visited = mapset.NewThreadUnsafeSet()
		stack   = []item{{bb: entry}}
	)
	visited.Add(entry)
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		succs := Successors(top.bb.Terminator)
		if top.next < len(succs) {
			s := succs[top.next]
			top.next++
			if visited.Add(s) {
				stack = append(stack, item{bb: s})
			}
			continue
		}
		out = append(out, top.bb)
		stack = stack[:len(stack)-1]
	}
	return out
}

// reachablePreds derives predecessor lists restricted to reachable blocks.
func reachablePreds(order []*BasicBlock, reachable map[*BasicBlock]int) map[*BasicBlock][]*BasicBlock {
	preds := make(map[*BasicBlock][]*BasicBlock)
	for _, bb := range order {
		for _, s := range Successors(bb.Terminator) {
			if _, ok := reachable[s]; ok {
				preds[s] = append(preds[s], bb)
			}
		}
	}
	return preds
}

// reachableSet returns the set of blocks reachable from the entry.
func reachableSet(fn *Function) mapset.Set {
	set := mapset.NewThreadUnsafeSet()
	if entry := fn.Entry(); entry != nil {
		for _, bb := range postorder(entry) {
			set.Add(bb)
		}
	}
	return set
}
