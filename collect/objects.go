package collect

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/jyothri/detach/detach"
)

// Object stores have no folders. A folder is a key prefix ending in "/",
// made visible by an empty placeholder object under the same key.

func objectName(name string) string {
	return strings.ReplaceAll(name, "/", "_")
}

func objectFolder(parent detach.Folder, name string) detach.Folder {
	return detach.Folder{
		ID:   parent.ID + objectName(name) + "/",
		Name: name,
		Path: detach.JoinPath(parent, name),
	}
}

// uniqueKey returns the first key under dir for name that exists reports
// as free: "a.pdf", then "a (1).pdf", "a (2).pdf" and so on.
func uniqueKey(ctx context.Context, dir, name string, exists func(context.Context, string) (bool, error)) (string, error) {
	name = objectName(name)
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	candidate := name
	for i := 1; ; i++ {
		taken, err := exists(ctx, dir+candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return dir + candidate, nil
		}
		candidate = fmt.Sprintf("%s (%d)%s", base, i, ext)
	}
}
