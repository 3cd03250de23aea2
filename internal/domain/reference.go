package domain

// ReferenceType names what a payment is for.
type ReferenceType string

const (
	ReferenceLesson ReferenceType = "lesson"
	ReferenceExam   ReferenceType = "exam"
)

func (r ReferenceType) Valid() bool {
	return r == ReferenceLesson || r == ReferenceExam
}
