package protocol

import "fmt"

// Filename is an 8-byte player name in the game's file-select charset,
// padded with trailing 0xdf (space) bytes. The all-0xdf value is the
// "unset" sentinel used before a client reports its save file name.
type Filename [8]byte

// DefaultFilename is the unset sentinel.
var DefaultFilename = Filename{0xdf, 0xdf, 0xdf, 0xdf, 0xdf, 0xdf, 0xdf, 0xdf}

// filenameCharset maps each charset byte to its displayed rune. Bytes
// past 0xec are not assigned by the game and render as U+FFFD.
var filenameCharset = [256]rune{
	'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', 'あ', 'い', 'う', 'え', 'お', 'か',
	'き', 'く', 'け', 'こ', 'さ', 'し', 'す', 'せ', 'そ', 'た', 'ち', 'つ', 'て', 'と', 'な', 'に',
	'ぬ', 'ね', 'の', 'は', 'ひ', 'ふ', 'へ', 'ほ', 'ま', 'み', 'む', 'め', 'も', 'や', 'ゆ', 'よ',
	'ら', 'り', 'る', 'れ', 'ろ', 'わ', 'を', 'ん', 'ぁ', 'ぃ', 'ぅ', 'ぇ', 'ぉ', 'っ', 'ゃ', 'ゅ',
	'ょ', 'が', 'ぎ', 'ぐ', 'げ', 'ご', 'ざ', 'じ', 'ず', 'ぜ', 'ぞ', 'だ', 'ぢ', 'づ', 'で', 'ど',
	'ば', 'び', 'ぶ', 'べ', 'ぼ', 'ぱ', 'ぴ', 'ぷ', 'ぺ', 'ぽ', 'ア', 'イ', 'ウ', 'エ', 'オ', 'カ',
	'キ', 'ク', 'ケ', 'コ', 'サ', 'シ', 'ス', 'セ', 'ソ', 'タ', 'チ', 'ツ', 'テ', 'ト', 'ナ', 'ニ',
	'ヌ', 'ネ', 'ノ', 'ハ', 'ヒ', 'フ', 'ヘ', 'ホ', 'マ', 'ミ', 'ム', 'メ', 'モ', 'ヤ', 'ユ', 'ヨ',
	'ラ', 'リ', 'ル', 'レ', 'ロ', 'ワ', 'ヲ', 'ン', 'ァ', 'ィ', 'ゥ', 'ェ', 'ォ', 'ッ', 'ャ', 'ュ',
	'ョ', 'ガ', 'ギ', 'グ', 'ゲ', 'ゴ', 'ザ', 'ジ', 'ズ', 'ゼ', 'ゾ', 'ダ', 'ヂ', 'ヅ', 'デ', 'ド',
	'バ', 'ビ', 'ブ', 'ベ', 'ボ', 'パ', 'ピ', 'プ', 'ペ', 'ポ', 'ヴ', 'A', 'B', 'C', 'D', 'E',
	'F', 'G', 'H', 'I', 'J', 'K', 'L', 'M', 'N', 'O', 'P', 'Q', 'R', 'S', 'T', 'U',
	'V', 'W', 'X', 'Y', 'Z', 'a', 'b', 'c', 'd', 'e', 'f', 'g', 'h', 'i', 'j', 'k',
	'l', 'm', 'n', 'o', 'p', 'q', 'r', 's', 't', 'u', 'v', 'w', 'x', 'y', 'z', ' ',
	'┬', '?', '!', ':', '-', '(', ')', '゛', '゜', ',', '.', '/', '�', '�', '�', '�',
	'�', '�', '�', '�', '�', '�', '�', '�', '�', '�', '�', '�', '�', '�', '�', '�',
}

func (f Filename) String() string {
	out := make([]rune, len(f))
	for i, b := range f {
		out[i] = filenameCharset[b]
	}
	return string(out)
}

// FallbackFilename renders "Player N" in the charset for worlds whose
// client never reported a name.
func FallbackFilename(world World) Filename {
	// charset bytes for "Player": P l a y e r
	const p, l, a, y, e, r, sp = 0xba, 0xd0, 0xc5, 0xdd, 0xc9, 0xd6, 0xdf
	n := uint8(world)
	switch {
	case n == 0:
		return DefaultFilename
	case n <= 9:
		return Filename{p, l, a, y, e, r, sp, n}
	case n <= 99:
		return Filename{p, l, a, y, e, r, n / 10, n % 10}
	default:
		// "PlayrNNN": drop the e to fit three digits.
		return Filename{p, l, a, y, r, n / 100, (n % 100) / 10, n % 10}
	}
}

// GoString keeps %#v output readable in test failures.
func (f Filename) GoString() string {
	return fmt.Sprintf("protocol.Filename(%q)", f.String())
}
