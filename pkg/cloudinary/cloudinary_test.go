package cloudinary

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestBuildPublicID(t *testing.T) {
	at := time.Unix(1714550400, 0)

	cases := map[string]string{
		"Math Syllabus.pdf":      "Math-Syllabus-1714550400.pdf",
		"../etc/notes.TXT":       "notes-1714550400.txt",
		"physics_2024 (v2).docx": "physics-2024--v2-1714550400.docx",
		"???.pdf":                "syllabus-1714550400.pdf",
		"":                       "syllabus-1714550400",
	}

	for name, want := range cases {
		require.Equal(t, want, buildPublicID(name, at), name)
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{CloudName: "demo", APIKey: "key"}, zerolog.Nop())
	require.Error(t, err)

	require.False(t, Config{}.Enabled())
	require.True(t, Config{CloudName: "demo", APIKey: "key", APISecret: "secret"}.Enabled())
}

func TestNewTrimsFolder(t *testing.T) {
	archive, err := New(Config{CloudName: "demo", APIKey: "key", APISecret: "secret", Folder: "/gema/syllabus/"}, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, "gema/syllabus", archive.folder)
}
