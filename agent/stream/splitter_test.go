package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "splits on sentence punctuation",
			in:   "今天天气真不错！我们一起出去玩吧？好不好呀~",
			want: []string{"今天天气真不错！", "我们一起出去玩吧？", "好不好呀~"},
		},
		{
			name: "short fragments buffer forward",
			in:   "嗯，好的，我知道啦。",
			want: []string{"嗯，好的，我知道啦。"},
		},
		{
			name: "parens attach to preceding fragment",
			in:   "太好啦！（开心地转圈）下次再聊哦。",
			want: []string{"太好啦！（开心地转圈）", "下次再聊哦。"},
		},
		{
			name: "leading parens attach to next fragment",
			in:   "（揉揉眼睛）早上好呀！",
			want: []string{"（揉揉眼睛）早上好呀！"},
		},
		{
			name: "ellipsis ends a fragment as one unit",
			in:   "唔......让我想想。",
			want: []string{"唔......", "让我想想。"},
		},
		{
			name: "trailing punctuation merges backward",
			in:   "今天天气真不错！~~",
			want: []string{"今天天气真不错！~~"},
		},
		{
			name: "empty input",
			in:   "",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitSentences(tt.in))
		})
	}
}

func TestSplitSentencesIdempotent(t *testing.T) {
	in := "今天天气真不错！（伸懒腰）我们一起出去玩吧？嗯，就这么定啦。"
	for _, frag := range SplitSentences(in) {
		assert.Equal(t, []string{frag}, SplitSentences(frag))
	}
}

func TestStripParens(t *testing.T) {
	assert.Equal(t, "太好啦！下次再聊", StripParens("太好啦！（开心地转圈）下次再聊"))
	assert.Equal(t, "你好", StripParens("(笑)你好"))
	assert.Equal(t, "", StripParens("（只有动作）"))
	assert.Equal(t, "前半句", StripParens("前半句（没有闭合的括号"))
}
