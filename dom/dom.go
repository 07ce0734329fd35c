// Package dom defines the host DOM contracts domready reasons about.
//
// domready never parses HTML or selectors itself. A host (htmldom for an
// in-process tree, rodhost for headless Chrome) implements these interfaces
// and answers the three questions the readiness algorithm asks: what matches,
// how far along is the document, and what changed.
//
// Node handles must be comparable and stable: the same underlying node must
// always be returned as the same handle value. domready compares handles with
// == (observation root, cache fingerprints), so pointer handles are expected.
package dom

// ReadyState mirrors document.readyState.
type ReadyState string

const (
	StateLoading     ReadyState = "loading"
	StateInteractive ReadyState = "interactive"
	StateComplete    ReadyState = "complete"
)

// Ready reports whether structural parsing has finished. Interactive and
// complete both count.
func (s ReadyState) Ready() bool {
	return s == StateInteractive || s == StateComplete
}

// Node is any node of the tree: document, element, text, comment.
type Node interface {
	// NodeName follows DOM nodeName: upper or lower case tag names for
	// elements, "#text", "#comment", "#document".
	NodeName() string
	// ParentNode returns nil at the top of the tree or for detached roots.
	ParentNode() Node
	// NextSibling returns the following sibling of any node type, or nil.
	NextSibling() Node
}

// Element is an element node.
type Element interface {
	Node
	TagName() string
	GetAttribute(name string) (string, bool)
	OuterHTML() (string, error)
	// Matches reports whether the element matches the selector list.
	Matches(selector string) (bool, error)
	QuerySelector(selector string) (Element, error)
	QuerySelectorAll(selector string) ([]Element, error)
}

// Target is a node a search can be scoped to: a document or an element.
type Target interface {
	Node
	// QuerySelector returns the first descendant matching selector in
	// document order, or nil.
	QuerySelector(selector string) (Element, error)
	// QuerySelectorAll returns every descendant matching selector in
	// document order.
	QuerySelectorAll(selector string) ([]Element, error)
	// OwnerDocument returns the document the target belongs to. A document
	// returns itself.
	OwnerDocument() Document
}

// Document is the root of a live tree.
type Document interface {
	Target
	ReadyState() ReadyState
}

// MutationType mirrors MutationRecord.type.
type MutationType string

const (
	MutationChildList     MutationType = "childList"
	MutationAttributes    MutationType = "attributes"
	MutationCharacterData MutationType = "characterData"
)

// Mutation is one record of a mutation batch.
type Mutation struct {
	Type          MutationType
	Target        Node
	AddedNodes    []Node
	RemovedNodes  []Node
	AttributeName string
}

// ObserveOptions selects which mutations an observer receives.
type ObserveOptions struct {
	ChildList  bool
	Subtree    bool
	Attributes bool
}

// Observer is implemented by documents able to report mutations. Hosts
// without it are polled.
type Observer interface {
	// Observe registers fn for mutation batches under root. fn may be called
	// from any goroutine and must not block. The returned func disconnects
	// and is safe to call more than once.
	Observe(root Node, opts ObserveOptions, fn func([]Mutation)) (disconnect func(), err error)
	// OnReadyStateChange registers fn for every readyState transition.
	OnReadyStateChange(fn func(ReadyState)) (remove func())
}

// ParseChecker lets a host answer the fully-parsed question in one step
// instead of a node-by-node walk (remote hosts pay a round trip per node).
type ParseChecker interface {
	FullyParsed(root Node) bool
}
