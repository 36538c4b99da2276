package strnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnakeCase(t *testing.T) {
	assert.Equal(t, "alice_smith", SnakeCase("Alice Smith"))
	assert.Equal(t, "v1_2_3", SnakeCase("v1.2.3"))
	assert.Equal(t, "host", SnakeCase("HOST"))
	assert.Equal(t, "", SnakeCase("***"))
}

func TestSanitizeFilePath(t *testing.T) {
	assert.Equal(t, "C__Users_test", SanitizeFilePath(`C:\Users\test`))
}

func TestFormatPath(t *testing.T) {
	assert.Equal(t, "/home/user/dir/", FormatPath("/home/user/dir/"))
	assert.Equal(t, "/home/user/file.txt", FormatPath("/home/user/file.txt"))
	assert.Equal(t, "/path/withunfriendlychars", FormatPath(`/path/with*unfriendly?chars`))
	assert.Equal(t, "C:/Users/test", FormatPath(`C:\Users\\test`))
	assert.Equal(t, "/home/my_user/DOCS/JVCS_TEST/Vault/",
		FormatPath("/home/my_user/DOCS/JVCS_TEST/Workspace/../Vault/"))
}

func TestComponents(t *testing.T) {
	assert.Equal(t, []string{"src", "main.txt"}, Components("src/main.txt"))
	assert.Equal(t, []string{"a", "b"}, Components("/a//b/"))
}
