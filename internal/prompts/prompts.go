// Package prompts builds the instruction text sent to the completion provider.
// Output is requested in Japanese Markdown, matching the studio UI.
package prompts

import (
	"fmt"
	"strings"

	"github.com/kiranshivaraju/scenarist/pkg/models"
)

// AnalyzeVideo returns the instruction that accompanies a video attachment.
func AnalyzeVideo(mode models.AnalysisMode) string {
	if mode == models.ModeStyle {
		return "このYouTube動画の作り手のスタイルを分析してください。" +
			"編集の手法、話し方、全体の雰囲気、動画の構成について、日本語のMarkdownでまとめてください。"
	}
	return "この動画の内容を要約してください。" +
		"扱われているトピックと重要なポイントを、日本語のMarkdownでまとめてください。"
}

// AnalyzeDocument returns the instruction that accompanies a PDF attachment.
func AnalyzeDocument(mode models.AnalysisMode) string {
	if mode == models.ModeStyle {
		return "添付したPDFドキュメントの書き方のスタイルを分析してください。" +
			"構成、トーン、フォーマット、特徴的なポイントを日本語のMarkdownでまとめてください。"
	}
	return "添付したPDFドキュメントの内容を要約してください。" +
		"扱われているトピックと重要なポイントを日本語のMarkdownでまとめてください。"
}

// AnalyzeText returns the instruction for already extracted document text,
// with the text appended after a blank line.
func AnalyzeText(mode models.AnalysisMode, content string) string {
	var instruction string
	if mode == models.ModeStyle {
		instruction = "次のドキュメントの書き方のスタイルを分析してください。" +
			"構成、トーン、フォーマット、特徴的なポイントを日本語のMarkdownでまとめてください。"
	} else {
		instruction = "次のドキュメントの内容を要約してください。" +
			"扱われているトピックと重要なポイントを日本語のMarkdownでまとめてください。"
	}
	return instruction + "\n\n" + content
}

// FormatEntries renders the selected entries as "# name\ncontent" blocks.
// Unselected entries are dropped; order is preserved.
func FormatEntries(entries []models.ContextEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Selected {
			continue
		}
		out = append(out, fmt.Sprintf("# %s\n%s", e.Name, e.Content))
	}
	return out
}

// FormatChat renders a conversation as "role: content" turns separated by
// blank lines.
func FormatChat(history []models.ChatMessage) string {
	turns := make([]string, len(history))
	for i, m := range history {
		turns[i] = m.Role + ": " + m.Content
	}
	return strings.Join(turns, "\n\n")
}

func contextBlock(styles, sources []string, chat string) string {
	return "スタイル情報:\n" + strings.Join(styles, "\n\n") +
		"\n\nソース情報:\n" + strings.Join(sources, "\n\n") +
		"\n\nこれまでの打ち合わせ:\n" + chat
}

// ScenarioDraft is the first of the two scenario calls.
func ScenarioDraft(styles, sources []string, chat string) string {
	return "次の情報をもとに、YouTube動画のシナリオの草案を書いてください。\n\n" +
		contextBlock(styles, sources, chat) +
		"\n\nこのあと推敲の工程があるので、まずは土台となる素直な構成で書いてください。\n\n" +
		"構成:\n1. 導入（フック）\n2. 本編\n3. まとめ\n\n" +
		"日本語のMarkdownで出力してください。"
}

// ScenarioRefine is the second scenario call. The draft is embedded verbatim.
func ScenarioRefine(styles, sources []string, chat, draft string) string {
	return "以下はYouTube動画シナリオの草案です。\n\n---\n草案:\n" + draft + "\n---\n\n" +
		"この草案を推敲し、完成版のシナリオを書いてください。\n\n" +
		"推敲の観点:\n" +
		"1. 草案の弱い部分や足りない部分を洗い出す\n" +
		"2. 冒頭のフックで視聴者を引き込む工夫を加える\n" +
		"3. 話の順序と構成をストーリーとして見直す\n" +
		"4. 具体的な例や表現を足して魅力を高める\n\n" +
		"元になった情報:\n" + contextBlock(styles, sources, chat) +
		"\n\n構成:\n1. 導入（フック）\n2. 本編（具体例を交える）\n3. まとめ（次の行動を促す）\n\n" +
		"日本語のMarkdownで出力してください。"
}

// ChatSystem is the system prompt for the planning chat, grounded on the
// selected sources.
func ChatSystem(sources []string) string {
	return "あなたは動画制作を手伝うアシスタントです。\n" +
		"次のソース情報を踏まえて、ユーザーの質問に答えてください。\n\n" +
		"ソース情報:\n" + strings.Join(sources, "\n\n---\n\n")
}
