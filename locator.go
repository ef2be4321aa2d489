package xmemcache

import (
	"slices"
	"strconv"

	"github.com/zeebo/xxh3"

	"github.com/pior/xmemcache/internal"
)

// locator maps a key to the index of its server in the configured list.
// Implementations are immutable and built from the server list only.
type locator interface {
	locate(key string) int
}

func newLocator(servers []Server, weighted bool, virtualNodes int) locator {
	if weighted {
		return newRingLocator(servers, virtualNodes)
	}
	return jumpLocator(len(servers))
}

// jumpLocator spreads keys uniformly with jump consistent hashing.
type jumpLocator int

func (n jumpLocator) locate(key string) int {
	return internal.JumpHash(xxh3.HashString(key), int(n))
}

type ringPoint struct {
	hash   uint64
	server int
}

// ringLocator is a hash ring with virtualNodes points per unit of weight.
type ringLocator struct {
	points []ringPoint
}

func newRingLocator(servers []Server, virtualNodes int) *ringLocator {
	total := 0
	for _, s := range servers {
		total += s.weight() * virtualNodes
	}

	points := make([]ringPoint, 0, total)
	for i, s := range servers {
		n := s.weight() * virtualNodes
		for v := range n {
			h := xxh3.HashString(s.Addr + "-" + strconv.Itoa(v))
			points = append(points, ringPoint{hash: h, server: i})
		}
	}

	slices.SortFunc(points, func(a, b ringPoint) int {
		switch {
		case a.hash < b.hash:
			return -1
		case a.hash > b.hash:
			return 1
		}
		return a.server - b.server
	})
	return &ringLocator{points: points}
}

func (r *ringLocator) locate(key string) int {
	if len(r.points) == 0 {
		return 0
	}

	h := xxh3.HashString(key)
	i, _ := slices.BinarySearchFunc(r.points, h, func(p ringPoint, h uint64) int {
		switch {
		case p.hash < h:
			return -1
		case p.hash > h:
			return 1
		}
		return 0
	})
	if i == len(r.points) {
		i = 0
	}
	return r.points[i].server
}
