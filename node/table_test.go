//go:build linux
// +build linux

package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnTableInsertAllocatesIncreasingTokens(t *testing.T) {
	table := NewConnTable()

	first, c1 := table.Insert(&fakeSocket{}, "a")
	second, c2 := table.Insert(&fakeSocket{}, "b")

	assert.NotEqual(t, ListenerToken, first)
	assert.NotEqual(t, WakeToken, first)
	assert.Greater(t, uint64(second), uint64(first))
	assert.Equal(t, 2, table.Len())

	assert.Equal(t, first, c1.Token())
	assert.Equal(t, "b", c2.Remote())
	assert.Equal(t, AwaitingInput, c1.State())
	assert.Equal(t, 0, c1.Len())
	assert.Equal(t, ReadWrite, c1.interest)
}

func TestConnTableTokensAreNotReused(t *testing.T) {
	table := NewConnTable()

	token, _ := table.Insert(&fakeSocket{}, "a")
	table.Remove(token)
	next, _ := table.Insert(&fakeSocket{}, "b")

	assert.NotEqual(t, token, next)
}

func TestConnTableGetAndRemove(t *testing.T) {
	table := NewConnTable()
	token, c := table.Insert(&fakeSocket{}, "a")

	got, ok := table.Get(token)
	require.True(t, ok)
	assert.Same(t, c, got)

	table.Remove(token)
	table.Remove(token)
	_, ok = table.Get(token)
	assert.False(t, ok)
	assert.Equal(t, 0, table.Len())
}

func TestConnTableRangeAllowsRemove(t *testing.T) {
	table := NewConnTable()
	for i := 0; i < 5; i++ {
		table.Insert(&fakeSocket{}, "x")
	}

	visited := 0
	table.Range(func(token Token, _ *Conn) bool {
		visited++
		table.Remove(token)
		return true
	})
	assert.Equal(t, 5, visited)
	assert.Equal(t, 0, table.Len())
}

func TestConnTableIdleSince(t *testing.T) {
	table := NewConnTable()
	base := time.Now()

	var conns []*Conn
	for i := 0; i < 4; i++ {
		_, c := table.Insert(&fakeSocket{}, "x")
		table.Touch(c, base.Add(time.Duration(i)*time.Second))
		conns = append(conns, c)
	}

	// activity on the oldest moves it behind the others
	table.Touch(conns[0], base.Add(10*time.Second))

	idle := table.IdleSince(base.Add(2500 * time.Millisecond))
	assert.Equal(t, []*Conn{conns[1], conns[2]}, idle)

	table.Remove(conns[1].Token())
	idle = table.IdleSince(base.Add(2500 * time.Millisecond))
	assert.Equal(t, []*Conn{conns[2]}, idle)

	assert.Empty(t, table.IdleSince(base))
	assert.Equal(t, []*Conn{conns[2], conns[3], conns[0]}, table.IdleSince(base.Add(time.Hour)))
}

func TestActivityList(t *testing.T) {
	var l activityList
	a := l.pushTail(&Conn{token: 2})
	b := l.pushTail(&Conn{token: 3})
	c := l.pushTail(&Conn{token: 4})
	assert.Equal(t, 3, l.len())

	order := func() []Token {
		var tokens []Token
		for node := l.head; node != nil; node = node.next {
			tokens = append(tokens, node.conn.token)
		}
		return tokens
	}

	l.moveToTail(a)
	assert.Equal(t, []Token{3, 4, 2}, order())
	l.moveToTail(a)
	assert.Equal(t, []Token{3, 4, 2}, order())

	l.remove(c)
	assert.Equal(t, []Token{3, 2}, order())
	l.remove(b)
	l.remove(a)
	assert.Equal(t, 0, l.len())
	assert.Nil(t, l.head)
	assert.Nil(t, l.tail)
}
