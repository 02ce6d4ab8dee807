package node

import "time"

// ConnTable owns every live connection record. It is only touched from the
// event loop goroutine.
type ConnTable struct {
	next     Token
	conns    map[Token]*Conn
	activity activityList
}

func NewConnTable() *ConnTable {
	return &ConnTable{
		next:  firstConnToken,
		conns: make(map[Token]*Conn),
	}
}

// Insert stores a new record with an empty output buffer under the next
// unused token. Tokens are never reused.
func (t *ConnTable) Insert(sock Socket, remote string) (Token, *Conn) {
	token := t.next
	t.next++

	c := newConn(token, sock, remote)
	c.activity = t.activity.pushTail(c)
	t.conns[token] = c
	return token, c
}

// Get returns the record for token. A miss means the connection was torn
// down already and the event that asked for it is stale.
func (t *ConnTable) Get(token Token) (*Conn, bool) {
	c, ok := t.conns[token]
	return c, ok
}

// Remove deletes the record; removing an absent token is a no-op.
func (t *ConnTable) Remove(token Token) {
	c, ok := t.conns[token]
	if !ok {
		return
	}
	delete(t.conns, token)
	if c.activity != nil {
		t.activity.remove(c.activity)
		c.activity = nil
	}
}

// Touch records activity on c at now. now must not go backwards between
// calls.
func (t *ConnTable) Touch(c *Conn, now time.Time) {
	c.lastActive = now
	if c.activity != nil {
		t.activity.moveToTail(c.activity)
	}
}

// IdleSince returns the connections whose last activity is before
// deadline, least recently active first.
func (t *ConnTable) IdleSince(deadline time.Time) []*Conn {
	var idle []*Conn
	for node := t.activity.head; node != nil; node = node.next {
		if !node.conn.lastActive.Before(deadline) {
			break
		}
		idle = append(idle, node.conn)
	}
	return idle
}

func (t *ConnTable) Len() int {
	return len(t.conns)
}

// Range calls fn for every record until fn returns false. fn may Remove
// the record it is given.
func (t *ConnTable) Range(fn func(token Token, c *Conn) bool) {
	for token, c := range t.conns {
		if !fn(token, c) {
			return
		}
	}
}
