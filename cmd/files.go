package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"mpy-sync/internal/remotefs"
	"mpy-sync/internal/tui"
	"mpy-sync/internal/util"
)

// deviceCmd wraps a handler that needs an open, listed session.
func deviceCmd(fn func(ctx context.Context, s *session, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx, true)
		if err != nil {
			reportDeviceError(err)
			return err
		}
		defer s.Close()
		if err := fn(ctx, s, cmd, args); err != nil {
			reportDeviceError(err)
			return err
		}
		return nil
	}
}

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List files on the board",
	Args:  cobra.MaximumNArgs(1),
	RunE: deviceCmd(func(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		n, err := s.find(path)
		if err != nil {
			return err
		}
		depth, _ := cmd.Flags().GetInt("depth")
		util.Default.Print(tui.RenderTree(n, depth))
		return nil
	}),
}

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Print a file stored on the board",
	Args:  cobra.ExactArgs(1),
	RunE: deviceCmd(func(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
		data, err := s.fs.ReadFile(ctx, args[0], true)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	}),
}

var getCmd = &cobra.Command{
	Use:   "get <remote> [local]",
	Short: "Download a file or directory from the board",
	Args:  cobra.RangeArgs(1, 2),
	RunE: deviceCmd(func(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
		n, err := s.find(args[0])
		if err != nil {
			return err
		}
		dest := "."
		if len(args) == 2 {
			dest = args[1]
		}
		count, err := download(ctx, s.fs, n, dest)
		if err != nil {
			return err
		}
		util.Default.Printf("✅ Downloaded %d file(s) to %s\n", count, dest)
		return nil
	}),
}

// download copies n (recursively for directories) into the local
// directory dest. The board root maps to dest itself.
func download(ctx context.Context, fs *remotefs.FS, n *remotefs.Node, dest string) (int, error) {
	base := n.Path()
	if n.Parent() != nil {
		base = n.Parent().Path()
	}

	count := 0
	var walk func(x *remotefs.Node) error
	walk = func(x *remotefs.Node) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		local := filepath.Join(dest, filepath.FromSlash(x.Path()[len(base):]))
		if x.IsDir() {
			if err := os.MkdirAll(local, 0755); err != nil {
				return err
			}
			for _, c := range x.Children() {
				if err := walk(c); err != nil {
					return err
				}
			}
			return nil
		}
		data, err := fs.ReadFile(ctx, x.Path(), false)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(local, data, 0644); err != nil {
			return err
		}
		count++
		return nil
	}
	return count, walk(n)
}

var putCmd = &cobra.Command{
	Use:   "put <local> <remote>",
	Short: "Write one local file to a path on the board",
	Args:  cobra.ExactArgs(2),
	RunE: deviceCmd(func(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		w := s.fs.Create(ctx, args[1])
		if _, err := io.Copy(w, f); err != nil {
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
		util.Default.Printf("✅ %s -> %s\n", args[0], displayPath(args[1]))
		return nil
	}),
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>...",
	Short: "Delete files or directories on the board",
	Args:  cobra.MinimumNArgs(1),
	RunE: deviceCmd(func(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			ok, err := tui.Confirm(fmt.Sprintf("Delete %d item(s) from the board", len(args)))
			if err != nil {
				return err
			}
			if !ok {
				util.Default.Println("Cancelled")
				return nil
			}
		}
		if err := s.fs.Delete(ctx, args...); err != nil {
			return err
		}
		util.Default.Printf("🗑  Deleted %d item(s)\n", len(args))
		return nil
	}),
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path>",
	Short: "Create a directory on the board",
	Args:  cobra.ExactArgs(1),
	RunE: deviceCmd(func(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
		parents, _ := cmd.Flags().GetBool("parents")
		if !parents {
			dir, name, err := splitParent(args[0])
			if err != nil {
				return err
			}
			_, err = s.fs.CreateDir(ctx, dir, name)
			return err
		}

		dir := ""
		for _, seg := range remotefs.SplitPath(args[0]) {
			next := remotefs.Join(dir, seg)
			if n := s.fs.Find(next); n == nil {
				if _, err := s.fs.CreateDir(ctx, dir, seg); err != nil {
					return err
				}
			} else if !n.IsDir() {
				return fmt.Errorf("%s: not a directory", next)
			}
			dir = next
		}
		return nil
	}),
}

var touchCmd = &cobra.Command{
	Use:   "touch <path>",
	Short: "Create an empty file on the board",
	Args:  cobra.ExactArgs(1),
	RunE: deviceCmd(func(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
		dir, name, err := splitParent(args[0])
		if err != nil {
			return err
		}
		if s.fs.Find(args[0]) != nil {
			return nil
		}
		_, err = s.fs.CreateFile(ctx, dir, name)
		return err
	}),
}

var mvCmd = &cobra.Command{
	Use:   "mv <path> <directory>",
	Short: "Move a file or directory into another directory on the board",
	Args:  cobra.ExactArgs(2),
	RunE: deviceCmd(func(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
		n, err := s.fs.Move(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		util.Default.Printf("✅ %s -> %s\n", displayPath(args[0]), n.DisplayPath())
		return nil
	}),
}

var renameCmd = &cobra.Command{
	Use:   "rename <path> <new-name>",
	Short: "Rename a file or directory on the board",
	Args:  cobra.ExactArgs(2),
	RunE: deviceCmd(func(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
		n, err := s.fs.Rename(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		util.Default.Printf("✅ %s -> %s\n", displayPath(args[0]), n.DisplayPath())
		return nil
	}),
}

var cpCmd = &cobra.Command{
	Use:   "cp <path> <directory>",
	Short: "Copy a file or directory on the board",
	Args:  cobra.ExactArgs(2),
	RunE: deviceCmd(func(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		n, err := s.fs.Copy(ctx, args[0], args[1], name)
		if err != nil {
			return err
		}
		util.Default.Printf("✅ %s -> %s\n", displayPath(args[0]), n.DisplayPath())
		return nil
	}),
}

func init() {
	lsCmd.Flags().IntP("depth", "d", -1, "levels to show (-1 for all)")
	rmCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	mkdirCmd.Flags().BoolP("parents", "p", false, "create missing parent directories")
	cpCmd.Flags().String("name", "", "name of the copy (defaults to the source name)")
}
