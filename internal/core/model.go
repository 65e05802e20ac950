package core

import (
	"fmt"
)

// ObjectKind tells topics and associations apart wherever either may appear.
type ObjectKind int

const (
	KindTopic ObjectKind = iota + 1
	KindAssoc
)

func (k ObjectKind) String() string {
	switch k {
	case KindTopic:
		return "topic"
	case KindAssoc:
		return "assoc"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseObjectKind is the inverse of ObjectKind.String.
func ParseObjectKind(s string) (ObjectKind, error) {
	switch s {
	case "topic":
		return KindTopic, nil
	case "assoc":
		return KindAssoc, nil
	}
	return 0, fmt.Errorf("unknown object kind %q", s)
}

func (k ObjectKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *ObjectKind) UnmarshalText(b []byte) error {
	parsed, err := ParseObjectKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// PlayerRef addresses a topic or an association by id.
type PlayerRef struct {
	Kind ObjectKind `json:"kind"`
	ID   int64      `json:"id"`
}

// TopicRef references the topic with the given id.
func TopicRef(id int64) PlayerRef { return PlayerRef{Kind: KindTopic, ID: id} }

// AssocRef references the association with the given id.
func AssocRef(id int64) PlayerRef { return PlayerRef{Kind: KindAssoc, ID: id} }

func (r PlayerRef) String() string {
	return fmt.Sprintf("%s %d", r.Kind, r.ID)
}

// Validate reports references whose kind is not one of the two variants.
func (r PlayerRef) Validate() error {
	switch r.Kind {
	case KindTopic, KindAssoc:
		return nil
	}
	return Invalidf("player reference has no kind: %v", r)
}

// PlayerModel is one end of an association. A topic player may be given by URI
// instead of id; the URI is resolved before the association is stored.
type PlayerModel struct {
	Ref         PlayerRef `json:"ref"`
	TopicURI    string    `json:"topic_uri,omitempty"`
	RoleTypeURI string    `json:"role_type_uri"`
}

// TopicPlayer builds a player for the topic id in the given role.
func TopicPlayer(id int64, roleTypeURI string) PlayerModel {
	return PlayerModel{Ref: TopicRef(id), RoleTypeURI: roleTypeURI}
}

// TopicPlayerByURI builds a player for the topic with the given URI.
func TopicPlayerByURI(uri, roleTypeURI string) PlayerModel {
	return PlayerModel{Ref: PlayerRef{Kind: KindTopic}, TopicURI: uri, RoleTypeURI: roleTypeURI}
}

// AssocPlayer builds a player for the association id in the given role.
func AssocPlayer(id int64, roleTypeURI string) PlayerModel {
	return PlayerModel{Ref: AssocRef(id), RoleTypeURI: roleTypeURI}
}

// TopicModel is the plain data record of a topic.
type TopicModel struct {
	ID       int64        `json:"id"`
	URI      string       `json:"uri,omitempty"`
	TypeURI  string       `json:"type_uri"`
	Value    SimpleValue  `json:"value"`
	Children *ChildTopics `json:"children,omitempty"`
}

// Ref returns the player reference of the topic.
func (t *TopicModel) Ref() PlayerRef { return TopicRef(t.ID) }

// ChildTopics returns the children, allocating an empty set when absent.
func (t *TopicModel) ChildTopics() *ChildTopics {
	if t.Children == nil {
		t.Children = NewChildTopics()
	}
	return t.Children
}

// AssocModel is the plain data record of an association.
type AssocModel struct {
	ID       int64        `json:"id"`
	URI      string       `json:"uri,omitempty"`
	TypeURI  string       `json:"type_uri"`
	Player1  PlayerModel  `json:"player1"`
	Player2  PlayerModel  `json:"player2"`
	Value    SimpleValue  `json:"value"`
	Children *ChildTopics `json:"children,omitempty"`
}

// Ref returns the player reference of the association.
func (a *AssocModel) Ref() PlayerRef { return AssocRef(a.ID) }

// ChildTopics returns the children, allocating an empty set when absent.
func (a *AssocModel) ChildTopics() *ChildTopics {
	if a.Children == nil {
		a.Children = NewChildTopics()
	}
	return a.Children
}

// Players returns both players in storage order.
func (a *AssocModel) Players() [2]PlayerModel {
	return [2]PlayerModel{a.Player1, a.Player2}
}

// PlayerByRole returns the player with the given role type. Asking for a role
// both players share is ambiguous.
func (a *AssocModel) PlayerByRole(roleTypeURI string) (PlayerModel, error) {
	m1 := a.Player1.RoleTypeURI == roleTypeURI
	m2 := a.Player2.RoleTypeURI == roleTypeURI
	switch {
	case m1 && m2:
		return PlayerModel{}, Ambiguousf("both players of assoc %d have role %q", a.ID, roleTypeURI)
	case m1:
		return a.Player1, nil
	case m2:
		return a.Player2, nil
	}
	return PlayerModel{}, NotFoundf("assoc %d has no player with role %q", a.ID, roleTypeURI)
}

// OtherPlayer returns the player opposite to the one with the given role.
func (a *AssocModel) OtherPlayer(roleTypeURI string) (PlayerModel, error) {
	p, err := a.PlayerByRole(roleTypeURI)
	if err != nil {
		return PlayerModel{}, err
	}
	if p == a.Player1 {
		return a.Player2, nil
	}
	return a.Player1, nil
}

// OtherPlayerOf returns the player opposite to the object with the given id.
// An association connecting an object with itself is ambiguous here.
func (a *AssocModel) OtherPlayerOf(ref PlayerRef) (PlayerModel, error) {
	m1 := a.Player1.Ref == ref
	m2 := a.Player2.Ref == ref
	switch {
	case m1 && m2:
		return PlayerModel{}, Ambiguousf("assoc %d connects %v with itself", a.ID, ref)
	case m1:
		return a.Player2, nil
	case m2:
		return a.Player1, nil
	}
	return PlayerModel{}, NotFoundf("%v is not a player of assoc %d", ref, a.ID)
}

// IsPlayer reports whether ref is one of the two players.
func (a *AssocModel) IsPlayer(ref PlayerRef) bool {
	return a.Player1.Ref == ref || a.Player2.Ref == ref
}

// RelatedTopic is a topic reached through an association.
type RelatedTopic struct {
	Topic *TopicModel `json:"topic"`
	Assoc *AssocModel `json:"assoc,omitempty"`
}

// RelatedAssoc is an association reached through another association.
type RelatedAssoc struct {
	Assoc *AssocModel `json:"assoc"`
	Via   *AssocModel `json:"via"`
}

// RelatedTopics is a possibly truncated traversal result.
type RelatedTopics struct {
	TotalCount int             `json:"total_count"`
	Items      []*RelatedTopic `json:"items"`
}

// RelatedAssocs is a possibly truncated traversal result.
type RelatedAssocs struct {
	TotalCount int             `json:"total_count"`
	Items      []*RelatedAssoc `json:"items"`
}

// RequestContext carries the request-scoped values of one transaction scope.
type RequestContext struct {
	WorkspaceID int64  `json:"workspace_id,omitempty"`
	Username    string `json:"username,omitempty"`
}
