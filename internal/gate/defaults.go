// Package gate decides which tool calls are held for human approval
// before they run.
package gate

// DefaultDenyPatterns defines call-text patterns that are held for approval
// when no policy file supplies its own. Patterns are matched
// case-insensitively against the rendered call with whitespace collapsed,
// so argument formatting does not matter.
var DefaultDenyPatterns = []string{
	"rm -rf /",
	"rm -fr /",
	"mkfs",
	"dd if=",
	":(){", // fork bomb preamble
	"chmod 777 /",
	"chmod -r 777 /",
	"chown root:root /",
	"> /dev/sda",
	"mv / /dev/null",
}

// DefaultDenyKeywords defines argument substrings that indicate a call
// touches a sensitive target, whatever the surrounding command looks like.
var DefaultDenyKeywords = []string{
	"/etc/shadow",
	"/etc/sudoers",
	"/dev/sd",
	"/dev/nvme",
	"/boot/",
	".ssh/authorized_keys",
	"id_rsa",
}
