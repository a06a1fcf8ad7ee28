package models

import (
	"fmt"
	"strings"
)

type VertexLabel string

const (
	LabelUser          VertexLabel = "User"
	LabelGroup         VertexLabel = "Group"
	LabelAccount       VertexLabel = "Account"
	LabelPermissionSet VertexLabel = "PermissionSet"
)

type EdgeLabel string

const (
	EdgeMemberOf              EdgeLabel = "MEMBER_OF"
	EdgeHasAccount            EdgeLabel = "HAS_ACCOUNT"
	EdgeAssignedPermissionSet EdgeLabel = "ASSIGNED_PERMISSION_SET"
)

type Environment string

const (
	EnvProduction    Environment = "production"
	EnvNonProduction Environment = "non_production"
	EnvOther         Environment = "other"
)

// AccessType splits grants into read-only and read-write. Unclear grants
// default to read-write.
type AccessType string

const (
	AccessReadOnly  AccessType = "ro"
	AccessReadWrite AccessType = "rw"
)

type Flag string

const (
	FlagCrossEnvironment Flag = "cross_environment"
	FlagAdministrative   Flag = "administrative"
	FlagExtensiveAccess  Flag = "extensive_access"
)

// Well-known property keys carried on vertices and edges.
const (
	PropUserID          = "userId"
	PropUserName        = "userName"
	PropEmail           = "email"
	PropGroupID         = "groupId"
	PropName            = "name"
	PropAccountID       = "accountId"
	PropAccountName     = "accountName"
	PropEnvironmentTag  = "environmentTag"
	PropPermissionSetID = "permissionSetId"
	PropTimestamp       = "timestamp"
)

type Vertex struct {
	ID         string            `json:"id"`
	Label      VertexLabel       `json:"label"`
	Properties map[string]string `json:"properties"`
}

type Edge struct {
	From       string            `json:"from"`
	To         string            `json:"to"`
	Label      EdgeLabel         `json:"label"`
	Properties map[string]string `json:"properties"`
}

// EdgeKey is the identity used for idempotent replace: re-importing an edge
// with the same key replaces its properties, last write wins.
type EdgeKey struct {
	From  string
	To    string
	Label EdgeLabel
}

func (e Edge) Key() EdgeKey {
	return EdgeKey{From: e.From, To: e.To, Label: e.Label}
}

var requiredProps = map[VertexLabel][]string{
	LabelUser:          {PropUserID, PropUserName, PropEmail},
	LabelGroup:         {PropGroupID, PropName},
	LabelAccount:       {PropAccountID, PropAccountName, PropEnvironmentTag},
	LabelPermissionSet: {PropPermissionSetID, PropName},
}

func validID(id string) bool {
	if id == "" {
		return false
	}
	return !strings.ContainsAny(id, " \t\n\r")
}

func (v Vertex) Validate() error {
	if !validID(v.ID) {
		return &ValidationError{Msg: fmt.Sprintf("vertex has invalid id %q", v.ID)}
	}
	required, ok := requiredProps[v.Label]
	if !ok {
		return &ValidationError{Msg: fmt.Sprintf("vertex %s has unknown label %q", v.ID, v.Label)}
	}
	for _, key := range required {
		if v.Properties[key] == "" {
			return &ValidationError{Msg: fmt.Sprintf("%s vertex %s missing required property %q", v.Label, v.ID, key)}
		}
	}
	return nil
}

func (e Edge) Validate() error {
	switch e.Label {
	case EdgeMemberOf, EdgeHasAccount, EdgeAssignedPermissionSet:
	default:
		return &ValidationError{Msg: fmt.Sprintf("edge %s->%s has unknown label %q", e.From, e.To, e.Label)}
	}
	if !validID(e.From) {
		return &ValidationError{Msg: fmt.Sprintf("%s edge has invalid from id %q", e.Label, e.From)}
	}
	if !validID(e.To) {
		return &ValidationError{Msg: fmt.Sprintf("%s edge has invalid to id %q", e.Label, e.To)}
	}
	return nil
}

// AccountAccess is one reachable account together with the permission sets
// granting access to it.
type AccountAccess struct {
	AccountID        string      `json:"account_id"`
	AccountName      string      `json:"account_name"`
	Environment      Environment `json:"environment"`
	AccessType       AccessType  `json:"access_type"`
	PermissionSetIDs []string    `json:"permission_set_ids"`
}

// ReadOnly reports whether the access is classified read-only. Anything
// else, including an unset access type, counts as read-write.
func (a AccountAccess) ReadOnly() bool {
	return a.AccessType == AccessReadOnly
}

// AccessRecord is the per-user result of one traversal. It lives only for
// the duration of the analysis run that produced it.
type AccessRecord struct {
	UserID         string            `json:"user_id"`
	Email          string            `json:"email"`
	Accounts       []AccountAccess   `json:"accounts"`
	Groups         []string          `json:"groups"`
	PermissionSets map[string]string `json:"permission_sets"` // id -> name
	Flags          []Flag            `json:"flags"`
	Warnings       []string          `json:"warnings,omitempty"`
}

func (r AccessRecord) HasFlag(f Flag) bool {
	for _, have := range r.Flags {
		if have == f {
			return true
		}
	}
	return false
}

// Environments returns the distinct environment classes the user reaches.
func (r AccessRecord) Environments() map[Environment]bool {
	envs := make(map[Environment]bool)
	for _, acc := range r.Accounts {
		envs[acc.Environment] = true
	}
	return envs
}

// ImportResult describes exactly how far an import got, so a failed load can
// be resumed from a known point instead of replayed from scratch.
type ImportResult struct {
	VerticesCommitted int       `json:"vertices_committed"`
	EdgesCommitted    int       `json:"edges_committed"`
	FailedBatchIndex  *int      `json:"failed_batch_index,omitempty"`
	ErrorKind         ErrorKind `json:"error_kind,omitempty"`
	Err               error     `json:"-"`
}

func (r ImportResult) Failed() bool {
	return r.Err != nil
}
