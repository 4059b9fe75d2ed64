// Package seed loads exam fixtures from YAML.
package seed

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"examseal/core/auth"
	"examseal/core/exam"
)

// Fixture is the top-level YAML document.
type Fixture struct {
	Exams []ExamFixture `yaml:"exams"`
}

// ExamFixture is one subject with its question paper.
type ExamFixture struct {
	ID              int64             `yaml:"id"`
	Name            string            `yaml:"name"`
	StartsAt        time.Time         `yaml:"startsAt"`
	DurationMinutes int               `yaml:"durationMinutes"`
	CorrectCredit   *int              `yaml:"correctCredit"`
	WrongPenalty    *int              `yaml:"wrongPenalty"`
	Author          int64             `yaml:"author"`
	Questions       []QuestionFixture `yaml:"questions"`
}

// QuestionFixture is one multiple-choice item.
type QuestionFixture struct {
	ID       int64        `yaml:"id"`
	Question string       `yaml:"question"`
	Options  exam.Options `yaml:"options"`
	Correct  string       `yaml:"correct"`
}

// Decode reads a fixture document.
func Decode(r io.Reader) (Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return Fixture{}, fmt.Errorf("seed: decode: %w", err)
	}
	for i, e := range f.Exams {
		if e.ID <= 0 {
			return Fixture{}, fmt.Errorf("seed: exam #%d: id must be positive", i+1)
		}
		if e.DurationMinutes <= 0 {
			return Fixture{}, fmt.Errorf("seed: exam %d: durationMinutes must be positive", e.ID)
		}
	}
	return f, nil
}

// ReadFile decodes the fixture at path.
func ReadFile(path string) (Fixture, error) {
	fh, err := os.Open(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("seed: %w", err)
	}
	defer fh.Close()
	return Decode(fh)
}

// Items converts the questions of e into exam items.
func (e ExamFixture) Items() []exam.Item {
	items := make([]exam.Item, 0, len(e.Questions))
	for _, q := range e.Questions {
		items = append(items, exam.Item{
			ID:        q.ID,
			SubjectID: e.ID,
			Question:  q.Question,
			Options:   q.Options,
			Correct:   exam.Choice(q.Correct),
		})
	}
	return items
}

// Subject converts e into a subject record.
func (e ExamFixture) Subject() exam.Subject {
	subj := exam.Subject{
		ID:              e.ID,
		Name:            e.Name,
		StartsAt:        e.StartsAt,
		DurationMinutes: e.DurationMinutes,
		CorrectCredit:   exam.DefaultCorrectCredit,
		WrongPenalty:    exam.DefaultWrongPenalty,
		CreatedBy:       e.Author,
	}
	if e.CorrectCredit != nil {
		subj.CorrectCredit = *e.CorrectCredit
	}
	if e.WrongPenalty != nil {
		subj.WrongPenalty = *e.WrongPenalty
	}
	return subj
}

// Apply stores every exam and question through svc. Questions go through the
// same checks as API edits, so a locked exam cannot be reseeded.
func Apply(ctx context.Context, svc *exam.Service, f Fixture) (exams, questions int, err error) {
	for _, e := range f.Exams {
		if err := svc.ImportSubject(e.Subject()); err != nil {
			return exams, questions, fmt.Errorf("seed: exam %d: %w", e.ID, err)
		}
		exams++
		author := auth.Principal{ID: e.Author, Role: auth.RoleStaff}
		for _, it := range e.Items() {
			if _, err := svc.PutItem(ctx, author, it); err != nil {
				return exams, questions, fmt.Errorf("seed: exam %d question %d: %w", e.ID, it.ID, err)
			}
			questions++
		}
	}
	return exams, questions, nil
}
