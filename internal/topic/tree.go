package topic

import (
	"strings"
	"sync"
)

// Subscription binds a client to a topic filter.
type Subscription struct {
	ClientID  string
	TopicName string
	QoSLevel  byte
}

func (s Subscription) key() string {
	return s.ClientID + "|" + s.TopicName
}

// treeNode is one level of the subscription tree.
type treeNode struct {
	children map[string]*treeNode
	// "+" child (single level)
	wildcardPlus *treeNode
	// "#" subscriptions (multi level), held by the parent level
	wildcardHash map[string]Subscription
	// exact subscribers
	terminals map[string]Subscription
}

func newTreeNode() *treeNode {
	return &treeNode{
		children:     map[string]*treeNode{},
		wildcardHash: map[string]Subscription{},
		terminals:    map[string]Subscription{},
	}
}

// Tree is an in-memory subscription tree keyed by topic level.
type Tree struct {
	mu   sync.RWMutex
	root *treeNode
}

func NewTree() *Tree {
	return &Tree{root: newTreeNode()}
}

func (n *treeNode) child(level string, create bool) *treeNode {
	if level == SingleLevelWildcard {
		if n.wildcardPlus == nil && create {
			n.wildcardPlus = newTreeNode()
		}
		return n.wildcardPlus
	}
	next, ok := n.children[level]
	if !ok && create {
		next = newTreeNode()
		n.children[level] = next
	}
	return next
}

// Insert adds a subscription after validating its filter.
func (t *Tree) Insert(subscription Subscription) error {
	if err := ValidateFilter(subscription.TopicName); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	levels := strings.Split(subscription.TopicName, Separator)
	current := t.root
	for i, level := range levels {
		if level == MultiLevelWildcard {
			current.wildcardHash[subscription.key()] = subscription
			return nil
		}
		current = current.child(level, true)
		if i == len(levels)-1 {
			current.terminals[subscription.key()] = subscription
		}
	}
	return nil
}

// Delete removes a subscription, reporting whether it existed.
func (t *Tree) Delete(subscription Subscription) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	levels := strings.Split(subscription.TopicName, Separator)
	current := t.root
	for i, level := range levels {
		if level == MultiLevelWildcard {
			_, ok := current.wildcardHash[subscription.key()]
			delete(current.wildcardHash, subscription.key())
			return ok
		}
		current = current.child(level, false)
		if current == nil {
			return false
		}
		if i == len(levels)-1 {
			_, ok := current.terminals[subscription.key()]
			delete(current.terminals, subscription.key())
			return ok
		}
	}
	return false
}

// DeleteClient removes every subscription held by a client.
func (t *Tree) DeleteClient(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var walk func(n *treeNode)
	walk = func(n *treeNode) {
		for key, sub := range n.wildcardHash {
			if sub.ClientID == clientID {
				delete(n.wildcardHash, key)
			}
		}
		for key, sub := range n.terminals {
			if sub.ClientID == clientID {
				delete(n.terminals, key)
			}
		}
		for _, c := range n.children {
			walk(c)
		}
		if n.wildcardPlus != nil {
			walk(n.wildcardPlus)
		}
	}
	walk(t.root)
}

// Match returns the subscriptions selected by a published topic name,
// deduplicated by client and filter.
func (t *Tree) Match(publishTopic string) []Subscription {
	t.mu.RLock()
	defer t.mu.RUnlock()

	levels := strings.Split(publishTopic, Separator)
	system := strings.HasPrefix(publishTopic, "$")
	var results []Subscription

	queue := []*treeNode{t.root}
	for i, currentLevel := range levels {
		var nextQueue []*treeNode

		for _, node := range queue {
			// 1. "#" subscriptions of this node
			if !(system && node == t.root) {
				for _, sub := range node.wildcardHash {
					results = append(results, sub)
				}
			}

			// 2. exact child
			if child, ok := node.children[currentLevel]; ok {
				nextQueue = append(nextQueue, child)
			}

			// 3. "+" child
			if node.wildcardPlus != nil && !(system && i == 0) {
				nextQueue = append(nextQueue, node.wildcardPlus)
			}
		}

		queue = nextQueue
		if len(queue) == 0 {
			break
		}
	}

	// 4. terminal node: exact subscribers, and "a/#" matching "a"
	for _, node := range queue {
		for _, sub := range node.terminals {
			results = append(results, sub)
		}
		for _, sub := range node.wildcardHash {
			results = append(results, sub)
		}
	}

	seen := make(map[string]bool)
	finalResults := make([]Subscription, 0, len(results))
	for _, sub := range results {
		if !seen[sub.key()] {
			finalResults = append(finalResults, sub)
			seen[sub.key()] = true
		}
	}
	return finalResults
}
