package exam

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScoreFourQuestionScenario(t *testing.T) {
	items := []Item{
		{ID: 1, Correct: ChoiceA},
		{ID: 2, Correct: ChoiceB},
		{ID: 3, Correct: ChoiceC},
		{ID: 4, Correct: ChoiceD},
	}
	answers := []Answer{
		{ItemID: 1, Selected: ChoiceA},
		{ItemID: 2, Selected: ChoiceC},
		{ItemID: 3, Selected: ""},
		{ItemID: 99, Selected: ChoiceA},
	}
	assert.Equal(t, 3, Score(items, answers, 4, -1))
}

func TestScoreCanGoNegative(t *testing.T) {
	items := []Item{{ID: 1, Correct: ChoiceA}, {ID: 2, Correct: ChoiceA}}
	answers := []Answer{{ItemID: 1, Selected: ChoiceB}, {ItemID: 2, Selected: ChoiceC}}
	assert.Equal(t, -2, Score(items, answers, 4, -1))
	assert.Equal(t, 0, Score(items, nil, 4, -1))
}

func TestScoreCountsFirstAnswerPerItem(t *testing.T) {
	items := []Item{
		{ID: 1, Correct: ChoiceA},
		{ID: 2, Correct: ChoiceB},
		{ID: 3, Correct: ChoiceC},
		{ID: 4, Correct: ChoiceD},
	}
	repeated := make([]Answer, 100)
	for i := range repeated {
		repeated[i] = Answer{ItemID: 1, Selected: ChoiceA}
	}
	assert.Equal(t, 4, Score(items, repeated, 4, -1))

	answers := []Answer{
		{ItemID: 2, Selected: ChoiceA},
		{ItemID: 2, Selected: ChoiceB},
		{ItemID: 3, Selected: ""},
		{ItemID: 3, Selected: ChoiceC},
	}
	assert.Equal(t, -1, Score(items, answers, 4, -1))
}

func TestStatus(t *testing.T) {
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	subj := Subject{StartsAt: start, DurationMinutes: 60}

	assert.Equal(t, StatusUpcoming, Status(subj, nil, start.Add(-time.Minute)))
	assert.Equal(t, StatusOngoing, Status(subj, nil, start))
	assert.Equal(t, StatusOngoing, Status(subj, nil, start.Add(time.Hour)))
	assert.Equal(t, StatusMissed, Status(subj, nil, start.Add(time.Hour+time.Second)))

	started := &Attempt{Status: AttemptStarted}
	assert.Equal(t, StatusMissed, Status(subj, started, start.Add(2*time.Hour)))

	submitted := &Attempt{Status: AttemptSubmitted}
	assert.Equal(t, StatusSubmitted, Status(subj, submitted, start.Add(2*time.Hour)))
	assert.Equal(t, StatusSubmitted, Status(subj, submitted, start.Add(time.Minute)))
}

func TestWindow(t *testing.T) {
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	from, to := Subject{StartsAt: start, DurationMinutes: 90}.Window()
	assert.Equal(t, start.Unix(), from)
	assert.Equal(t, start.Unix()+5400, to)
}

func TestParseChoice(t *testing.T) {
	c, err := ParseChoice(" b ")
	assert.NoError(t, err)
	assert.Equal(t, ChoiceB, c)

	_, err = ParseChoice("E")
	assert.Error(t, err)
}
