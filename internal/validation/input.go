package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Константы валидации
const (
	MinTitleLength       = 3
	MaxTitleLength       = 200
	MinDescriptionLength = 0
	MaxDescriptionLength = 5000
	MaxReasonLength      = 2000
	MaxSkillLength       = 50
	MaxSkillsCount       = 50
	MinAmount            = 0.0
	MaxAmount            = 100000000.0 // 100 миллионов
	MaxMilestonesCount   = 50
)

// ValidateLength проверяет длину строки.
func ValidateLength(fieldName, value string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if min > 0 && length < min {
		return fmt.Errorf("%s должен быть не менее %d символов", fieldName, min)
	}
	if max > 0 && length > max {
		return fmt.Errorf("%s должен быть не более %d символов", fieldName, max)
	}
	return nil
}

// ValidateNonEmpty проверяет, что строка не пустая.
func ValidateNonEmpty(fieldName, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s не может быть пустым", fieldName)
	}
	return nil
}

// ValidateTitle проверяет название проекта или вехи.
func ValidateTitle(title string) error {
	if title == "" {
		return fmt.Errorf("название обязательно")
	}

	title = strings.TrimSpace(title)

	if err := ValidateLength("название", title, MinTitleLength, MaxTitleLength); err != nil {
		return err
	}

	return nil
}

// ValidateDescription проверяет описание проекта.
func ValidateDescription(description string) error {
	if description == "" {
		return nil
	}

	description = strings.TrimSpace(description)

	if err := ValidateLength("описание", description, MinDescriptionLength, MaxDescriptionLength); err != nil {
		return err
	}

	return nil
}

// ValidateReason проверяет причину спора или отклонения вехи.
func ValidateReason(reason string) error {
	if strings.TrimSpace(reason) == "" {
		return fmt.Errorf("причина обязательна")
	}

	if err := ValidateLength("причина", reason, 1, MaxReasonLength); err != nil {
		return err
	}

	return nil
}

// ValidateAmount проверяет денежную сумму.
func ValidateAmount(fieldName string, amount float64) error {
	if amount <= MinAmount {
		return fmt.Errorf("%s должен быть положительным", fieldName)
	}
	if amount > MaxAmount {
		return fmt.Errorf("%s не может превышать %.0f", fieldName, MaxAmount)
	}
	return nil
}

// ValidateSkills проверяет массив навыков.
func ValidateSkills(skills []string) error {
	if len(skills) > MaxSkillsCount {
		return fmt.Errorf("количество навыков не может превышать %d", MaxSkillsCount)
	}

	seen := make(map[string]bool)
	for _, skill := range skills {
		skill = strings.TrimSpace(skill)
		if skill == "" {
			return fmt.Errorf("навык не может быть пустым")
		}

		// Проверка длины навыка
		if utf8.RuneCountInString(skill) > MaxSkillLength {
			return fmt.Errorf("навык не может быть длиннее %d символов", MaxSkillLength)
		}

		// Проверка на дубликаты (без учета регистра)
		skillLower := strings.ToLower(skill)
		if seen[skillLower] {
			return fmt.Errorf("навык '%s' указан дважды", skill)
		}
		seen[skillLower] = true
	}

	return nil
}
