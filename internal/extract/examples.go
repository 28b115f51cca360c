package extract

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// fewShotPreamble opens the example block. It reinforces the two hard rules:
// the tone field is always assigned, everything else defaults to empty, and
// values must come from the incoming letter rather than the examples.
const fewShotPreamble = "**НАЧАЛО БЛОКА ПРИМЕРОВ**" +
	"Изучи данные примеры. Они помогут тебе правильно извлечь информацию из поступающих писем. **НЕЛЬЗЯ** брать информацию из ПРИМЕРОВ! " +
	"Заводские номера и другие идентификаторы фиксированного формата из примеров копировать **ЗАПРЕЩЕНО**." +
	"**emotional_tone** может быть одним из: positive, neutral, negative. Его **НУЖНО** определять всегда!" +
	" Для остальных полей **КРОМЕ emotional_tone**, если нет информации, оставь пустую строку:\n"

// perExampleReminder is appended after each example's expected JSON.
const perExampleReminder = "Обрати внимание на название полей. Они должны быть точно такими же. " +
	"**emotional_tone** может быть одним из: positive, neutral, negative. Определять нужно всегда." +
	"Для остальных полей **КРОМЕ emotional_tone**, если нет информации, оставь пустую строку\n\n"

// example is one few-shot pair: a full letter text and the JSON the model is
// expected to produce for it.
type example struct {
	FullLetterText string `json:"full_letter_text"`
	TicketDraft
}

// loadExamples reads the example file and renders the complete few-shot
// prompt block. The file is a JSON array of objects, each holding a
// full_letter_text field alongside the expected draft fields.
func loadExamples(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("extract: read examples %s: %w", path, err)
	}

	var examples []example
	if err := json.Unmarshal(data, &examples); err != nil {
		return "", fmt.Errorf("extract: parse examples %s: %w", path, err)
	}
	if len(examples) == 0 {
		return "", fmt.Errorf("extract: examples file %s is empty", path)
	}

	var b strings.Builder
	b.WriteString(fewShotPreamble)
	for i, ex := range examples {
		expected, err := json.MarshalIndent(ex.TicketDraft, "", "  ")
		if err != nil {
			return "", fmt.Errorf("extract: render example %d: %w", i+1, err)
		}
		fmt.Fprintf(&b, "Пример %d:\n%s\n\n", i+1, ex.FullLetterText)
		fmt.Fprintf(&b, "Ожидаемый json:\n%s\n", expected)
		b.WriteString(perExampleReminder)
	}
	b.WriteString("\n **КОНЕЦ БЛОКА ПРИМЕРОВ**")
	return b.String(), nil
}
