package producttable

import "github.com/xenking/dyson-admin/internal/domain/product"

// ModalKind enumerates the dialog states of the screen.
type ModalKind int

const (
	ModalClosed ModalKind = iota
	ModalEditing
	ModalAdding
)

func (k ModalKind) String() string {
	switch k {
	case ModalEditing:
		return "editing"
	case ModalAdding:
		return "adding"
	default:
		return "closed"
	}
}

// Modal is the dialog state: closed, editing a row, or adding a product.
// At most one dialog is open at any time.
type Modal struct {
	kind ModalKind
	row  Row

	draft    product.Input
	hasDraft bool
}

func editing(r Row) Modal { return Modal{kind: ModalEditing, row: r} }

func adding() Modal { return Modal{kind: ModalAdding} }

// Kind returns the dialog state.
func (m Modal) Kind() ModalKind { return m.kind }

// Editing returns the row being edited.
func (m Modal) Editing() (Row, bool) {
	return m.row, m.kind == ModalEditing
}

// IsEditing is a template helper.
func (m Modal) IsEditing() bool { return m.kind == ModalEditing }

// IsAdding is a template helper.
func (m Modal) IsAdding() bool { return m.kind == ModalAdding }

// Row returns the edited row (zero when not editing).
func (m Modal) Row() Row { return m.row }

func (m Modal) withDraft(in product.Input) Modal {
	m.draft, m.hasDraft = in, true
	return m
}

// Form returns the values the open dialog shows: the last rejected
// submission if there is one, otherwise the edited row (empty when adding).
func (m Modal) Form() product.Input {
	if m.hasDraft {
		return m.draft
	}
	return m.row.Input()
}
