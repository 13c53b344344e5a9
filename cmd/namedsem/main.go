// Command namedsem inspects and drives named System V semaphores from the
// shell.
//
//	namedsem create render-slots --value 3
//	namedsem run --timeout 30s render-slots -- ./render.sh scene.blend
//	namedsem value render-slots
//	namedsem remove render-slots
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	ctx := context.Background()
	cmd := Command(ctx)
	if err := cmd.ExecuteContext(ctx); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: error: %v\n", cmd.CommandPath(), err)
		os.Exit(1)
	}
}
