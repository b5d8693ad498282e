package orm

import (
	"github.com/eleven-am/modelkit/pkg/dispatch"
)

// M2MAction names a phase of a many-to-many change.
type M2MAction string

const (
	ActionPreAdd     M2MAction = "pre_add"
	ActionPostAdd    M2MAction = "post_add"
	ActionPreRemove  M2MAction = "pre_remove"
	ActionPostRemove M2MAction = "post_remove"
	ActionPreClear   M2MAction = "pre_clear"
	ActionPostClear  M2MAction = "post_clear"
)

// M2MChangedEvent is sent with the intermediary model as sender. PKSet is nil
// for clear actions and otherwise holds the affected target keys in order.
type M2MChangedEvent struct {
	Sender   *Model
	Action   M2MAction
	Instance *Instance
	Reverse  bool
	Model    *Model
	PKSet    []interface{}
	Using    string
}

// ClassPreparedEvent fires once a model has been finalized by Register.
type ClassPreparedEvent struct {
	Model *Model
}

type SaveEvent struct {
	Sender   *Model
	Instance *Instance
	Created  bool
	Using    string
}

type DeleteEvent struct {
	Sender   *Model
	Instance *Instance
	Using    string
}

// Signals groups the model-level callback lists owned by a registry.
type Signals struct {
	ClassPrepared *dispatch.Signal[ClassPreparedEvent]
	PreSave       *dispatch.Signal[SaveEvent]
	PostSave      *dispatch.Signal[SaveEvent]
	PreDelete     *dispatch.Signal[DeleteEvent]
	PostDelete    *dispatch.Signal[DeleteEvent]
	M2MChanged    *dispatch.Signal[M2MChangedEvent]
}

func newSignals() *Signals {
	return &Signals{
		ClassPrepared: dispatch.New[ClassPreparedEvent]("class_prepared"),
		PreSave:       dispatch.New[SaveEvent]("pre_save"),
		PostSave:      dispatch.New[SaveEvent]("post_save"),
		PreDelete:     dispatch.New[DeleteEvent]("pre_delete"),
		PostDelete:    dispatch.New[DeleteEvent]("post_delete"),
		M2MChanged:    dispatch.New[M2MChangedEvent]("m2m_changed"),
	}
}
