// Package dialogue builds the assistant's prompts and resolves user answers
// against the answers a stage accepts.
package dialogue

import (
	"fmt"
	"strings"

	"minwondesk/internal/domain"
)

const (
	answerYesNo   = "예 또는 아니오로 답해주세요."
	repromptNotes = "죄송합니다. 잘 알아듣지 못했어요. 다시 한 번 말씀해 주세요."
)

// ChoicesFor returns the answers a stage accepts. DETAIL expects free speech.
func ChoicesFor(stage domain.Stage) domain.ChoiceSet {
	switch stage {
	case domain.StageReady, domain.StageComplete:
		return domain.ChoiceSet{domain.OptionStart}
	case domain.StageGroupSelection:
		return domain.ChoiceSet{domain.OptionPersonal, domain.OptionPublic}
	case domain.StageSummaryConfirm, domain.StagePrintConfirm:
		return domain.ChoiceSet{domain.OptionYes, domain.OptionNo}
	case domain.StageVisitHandoff, domain.StageDocumentGuide:
		return domain.ChoiceSet{domain.OptionAcknowledge}
	default:
		return nil
	}
}

// PromptFor builds the prompt for stage from the live record. It never mutates record.
func PromptFor(stage domain.Stage, record domain.ConversationRecord) domain.Prompt {
	choices := ChoicesFor(stage)
	return domain.Prompt{
		Stage:         stage,
		Text:          promptText(stage, record),
		ExpectsChoice: len(choices) > 0,
		Choices:       choices,
	}
}

// Reprompt repeats prompt behind a "did not understand" notice.
func Reprompt(prompt domain.Prompt) domain.Prompt {
	prompt.Text = repromptNotes + "\n" + prompt.Text
	return prompt
}

func promptText(stage domain.Stage, record domain.ConversationRecord) string {
	agency := orDefault(record.Agency, "담당 부서")

	switch stage {
	case domain.StageReady:
		return "생활 민원 도우미입니다. 불편하신 점이 있으면 '시작'이라고 말씀하시거나 대화 시작하기 버튼을 눌러 주세요."
	case domain.StageGroupSelection:
		return "개인 생활에 관한 민원인가요, 공공 시설이나 기관에 관한 민원인가요? '개인' 또는 '공공'으로 답해주세요."
	case domain.StageDetail:
		return fmt.Sprintf(
			"%s 민원으로 접수를 시작합니다. 위치, 시간, 어떤 불편을 겪으셨는지 자세히 말씀해 주세요.",
			orDefault(record.GroupType.Label(), "일반"),
		)
	case domain.StageSummaryConfirm:
		return fmt.Sprintf(
			"말씀 감사합니다. %s 관련 민원으로 분류되며 %s에서 담당합니다. 민원 내용을 다음과 같이 정리했습니다: %s\n이 내용이 맞습니까? %s",
			orDefault(record.TopicCategory, "기타"), agency, record.Summary, answerYesNo,
		)
	case domain.StageVisitHandoff:
		return fmt.Sprintf(
			"%s\n\n%s 담당자가 현장을 방문할 예정입니다. 안내를 확인하셨으면 '확인'이라고 말씀해 주세요.",
			record.GuidanceText, agency,
		)
	case domain.StageDocumentGuide:
		return fmt.Sprintf(
			"%s\n\n방문 없이 서류로 처리되는 민원입니다. %s에서 검토 후 연락드리겠습니다.",
			record.GuidanceText, agency,
		)
	case domain.StagePrintConfirm:
		return fmt.Sprintf(
			"%s에 전달할 접수 내용(%s)을 인쇄해 드릴까요? %s",
			agency, record.Summary, answerYesNo,
		)
	case domain.StageComplete:
		return fmt.Sprintf(
			"%s에 전달하겠습니다. 담당 부서에서 3일에서 5일 이내에 연락드릴 예정입니다. 이용해 주셔서 감사합니다.",
			agency,
		)
	default:
		return ""
	}
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
