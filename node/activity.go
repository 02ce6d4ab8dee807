package node

type activityNode struct {
	prev *activityNode
	next *activityNode
	conn *Conn
}

// activityList keeps connections ordered by last activity, least recently
// active at the head.
type activityList struct {
	head   *activityNode
	tail   *activityNode
	length int
}

func (l *activityList) pushTail(c *Conn) *activityNode {
	node := &activityNode{conn: c}
	if l.tail == nil {
		l.head, l.tail = node, node
	} else {
		node.prev, l.tail.next, l.tail = l.tail, node, node
	}
	l.length++
	return node
}

func (l *activityList) remove(node *activityNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		l.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		l.tail = node.prev
	}
	node.next, node.prev = nil, nil
	l.length--
}

func (l *activityList) moveToTail(node *activityNode) {
	if l.tail == node {
		return
	}
	l.remove(node)
	// node was not the tail, so the list still has one
	node.prev, l.tail.next, l.tail = l.tail, node, node
	l.length++
}

func (l *activityList) len() int {
	return l.length
}
