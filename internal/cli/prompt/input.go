package prompt

import (
	"fmt"

	"github.com/manifoldco/promptui"
)

// Input asks for a line of text. Pressing Enter takes defaultValue.
func Input(label, defaultValue string) (string, error) {
	p := promptui.Prompt{
		Label:   label,
		Default: defaultValue,
	}
	result, err := p.Run()
	return result, wrapError(err)
}

// InputRequired asks for a line of text and re-asks until it is non-empty.
func InputRequired(label string) (string, error) {
	return InputWithValidation(label, func(input string) error {
		if input == "" {
			return fmt.Errorf("value required")
		}
		return nil
	})
}

// InputWithValidation asks for a line of text and re-asks until validate
// accepts it.
func InputWithValidation(label string, validate func(string) error) (string, error) {
	p := promptui.Prompt{
		Label:    label,
		Validate: validate,
	}
	result, err := p.Run()
	return result, wrapError(err)
}

// InputOptional asks for a line of text that may be left empty.
func InputOptional(label string) (string, error) {
	p := promptui.Prompt{
		Label: label + " (optional)",
	}
	result, err := p.Run()
	return result, wrapError(err)
}
