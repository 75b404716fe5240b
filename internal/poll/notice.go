package poll

import (
	"errors"
	"fmt"
)

const (
	noOptionsNotice      = "⚠️ 投票の選択肢が見つかりませんでした。'!vote 選択肢1, 選択肢2, ...' の形式で入力してください"
	tooManyOptionsNotice = "⚠️ 投票の選択肢が多すぎます（最大%d個まで）。現在: %d個"
	malformedNotice      = "⚠️ 投票の形式に問題があります: %s"
)

// Notice renders the message shown to the user in the thread of the command
func Notice(err error) string {
	var tooMany *TooManyOptionsError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoOptions):
		return noOptionsNotice
	case errors.As(err, &tooMany):
		return fmt.Sprintf(tooManyOptionsNotice, MaxOptions, tooMany.Count)
	default:
		return fmt.Sprintf(malformedNotice, err.Error())
	}
}
