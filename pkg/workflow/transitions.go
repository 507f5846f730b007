// Package workflow moves books through draft, editing, ready and published.
// Every edge of the graph is a row in the transition table; the engine is the
// only writer of Book.Status.
package workflow

import (
	"github.com/google/uuid"

	"github.com/bookflow/bookflow/pkg/model"
)

type Action string

const (
	ActionSubmit          Action = "submit"
	ActionReady           Action = "ready"
	ActionChangesRequired Action = "changes-required"
	ActionNotReady        Action = "not-ready"
	ActionPublish         Action = "publish"
)

// Audience is who hears about a transition: every member of a role, or the
// book's author.
type Audience struct {
	Role   model.Role
	Author bool
}

var (
	ToEditors    = Audience{Role: model.RoleEditor}
	ToPublishers = Audience{Role: model.RolePublisher}
	ToAuthor     = Audience{Author: true}
)

// Transition describes one edge of the book workflow.
type Transition struct {
	Action       Action
	From         model.BookStatus
	To           model.BookStatus
	Roles        []model.Role
	OwnerOnly    bool
	Notify       Audience
	EventType    string
	applyChanges func(actor model.Actor, updates map[string]interface{})
}

func clearAssignees(_ model.Actor, u map[string]interface{}) {
	u["editor_id"] = nil
	u["publisher_id"] = nil
}

func assignEditor(a model.Actor, u map[string]interface{}) {
	u["editor_id"] = a.ID
}

func clearPublisher(_ model.Actor, u map[string]interface{}) {
	u["publisher_id"] = nil
}

func assignPublisher(a model.Actor, u map[string]interface{}) {
	u["publisher_id"] = a.ID
}

var transitions = map[Action]Transition{
	ActionSubmit:          {ActionSubmit, model.BookDraft, model.BookEditing, []model.Role{model.RoleAuthor}, true, ToEditors, model.EventBookSubmitted, clearAssignees},
	ActionReady:           {ActionReady, model.BookEditing, model.BookReady, []model.Role{model.RoleEditor}, false, ToPublishers, model.EventBookMarkedReady, assignEditor},
	ActionChangesRequired: {ActionChangesRequired, model.BookEditing, model.BookDraft, []model.Role{model.RoleEditor}, false, ToAuthor, model.EventBookChangesRequested, clearAssignees},
	ActionNotReady:        {ActionNotReady, model.BookReady, model.BookEditing, []model.Role{model.RolePublisher}, false, ToEditors, model.EventBookNotReady, clearPublisher},
	ActionPublish:         {ActionPublish, model.BookReady, model.BookPublished, []model.Role{model.RolePublisher}, false, ToAuthor, model.EventBookPublished, assignPublisher},
}

// Lookup returns the transition for action.
func Lookup(action Action) (Transition, bool) {
	t, ok := transitions[action]
	return t, ok
}

// Actions lists every known action in workflow order.
func Actions() []Action {
	return []Action{ActionSubmit, ActionReady, ActionChangesRequired, ActionNotReady, ActionPublish}
}

func (t Transition) Allows(role model.Role) bool {
	for _, r := range t.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Updates returns the column changes applied together with the status change.
func (t Transition) Updates(actor model.Actor) map[string]interface{} {
	updates := map[string]interface{}{"status": t.To}
	if t.applyChanges != nil {
		t.applyChanges(actor, updates)
	}
	return updates
}

// audienceByEvent maps outbox event types, legacy aliases included, to the
// audience the relay fans out to.
var audienceByEvent = map[string]Audience{
	model.EventBookReady: ToPublishers,
}

func init() {
	for _, t := range transitions {
		audienceByEvent[t.EventType] = t.Notify
	}
}

// AudienceFor resolves the audience of an outbox event type. Unknown types
// report false.
func AudienceFor(eventType string) (Audience, bool) {
	a, ok := audienceByEvent[eventType]
	return a, ok
}

// CanonicalEventType folds legacy aliases into their current name.
func CanonicalEventType(eventType string) string {
	if eventType == model.EventBookReady {
		return model.EventBookMarkedReady
	}
	return eventType
}

// Result is what a successful transition reports back to the caller.
type Result struct {
	BookID uuid.UUID        `json:"bookId"`
	From   model.BookStatus `json:"from"`
	To     model.BookStatus `json:"to"`
}
