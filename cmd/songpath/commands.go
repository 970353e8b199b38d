package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/dan-solli/songpath/pkg/graph"
	"github.com/dan-solli/songpath/pkg/search"
	"github.com/spf13/cobra"
)

func (a *app) etlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "etl",
		Short: "Clean the raw catalog and write the graph sample",
		Long: `Clean the raw catalog into processed/songs_full.csv and write a
genre-balanced sample to processed/songs.csv. Any saved graph is discarded
because it no longer matches the sample.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := a.svc.RunETL(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "full dataset: %s\n", result.FullCSV)
			fmt.Fprintf(out, "graph sample: %s\n", result.SampleCSV)
			return nil
		},
	}
}

func (a *app) buildCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build or load the similarity graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := a.svc.Graph(cmd.Context(), force)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "graph ready: %d songs, %d edges (%s)\n",
				g.NodeCount(), g.EdgeCount(), a.svc.Config().GraphDBPath())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "ignore the saved graph and rebuild from the sample CSV")
	return cmd
}

func (a *app) pathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path <from> <to>",
		Short: "Find the smoothest transition path between two songs",
		Long: `Find the path of least total dissimilarity between two songs.
Songs are given by ID or by exact name (case-insensitive).`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			from, err := a.svc.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			to, err := a.svc.Resolve(ctx, args[1])
			if err != nil {
				return err
			}

			result, err := a.svc.ShortestPath(ctx, from, to)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !result.Reachable {
				fmt.Fprintf(out, "no path from %s to %s: the target cannot be reached through similar songs\n", from, to)
				return nil
			}

			g, err := a.svc.Graph(ctx, false)
			if err != nil {
				return err
			}
			edges, err := search.PathEdges(g, result.Path)
			if err != nil {
				return err
			}
			printPath(out, g, result, edges)
			return nil
		},
	}
}

func printPath(out io.Writer, g *graph.Graph, result search.PathResult, edges []graph.Edge) {
	for i, id := range result.Path {
		meta, _ := g.Node(id)
		if i == 0 {
			fmt.Fprintf(out, "%3d. %s\n", i+1, songLabel(id, meta))
			continue
		}
		fmt.Fprintf(out, "%3d. %s  (+%.4f)\n", i+1, songLabel(id, meta), edges[i-1].Cost())
	}
	fmt.Fprintf(out, "total distance: %.4f over %d transitions\n", result.Distance, len(edges))
}

func (a *app) neighborsCmd() *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "neighbors <song>",
		Short: "List the songs most similar to a song",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := a.svc.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			neighbors, err := a.svc.Neighbors(ctx, id, depth)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(neighbors) == 0 {
				fmt.Fprintf(out, "%s has no outgoing transitions\n", id)
				return nil
			}
			for _, n := range neighbors {
				fmt.Fprintf(out, "%s%s  (%.4f)\n", strings.Repeat("  ", n.Depth-1), songLabel(n.NodeID, n.Meta), n.Distance)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 1, "number of hops to expand")
	return cmd
}

func (a *app) findCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "find <query>",
		Short: "Search songs by name or artist",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes, err := a.svc.FindSongs(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(nodes) == 0 {
				fmt.Fprintln(out, "no matching songs")
				return nil
			}
			for _, n := range nodes {
				fmt.Fprintf(out, "%s\t%s - %s\n", n.ID, n.Name, n.Artist)
			}
			return nil
		},
	}
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show graph size and build settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := a.svc.Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "songs:          %d\n", stats.Nodes)
			fmt.Fprintf(out, "edges:          %d\n", stats.Edges)
			fmt.Fprintf(out, "saved:          %d songs, %d edges\n", stats.SavedNodes, stats.SavedEdges)
			fmt.Fprintf(out, "max out-degree: %d\n", stats.MaxOutDegree)
			fmt.Fprintf(out, "k:              %d\n", stats.K)
			fmt.Fprintf(out, "features:       %s\n", strings.Join(stats.Features, ", "))
			fmt.Fprintf(out, "source:         %s\n", stats.Source)
			if !stats.BuiltAt.IsZero() {
				fmt.Fprintf(out, "built at:       %s\n", stats.BuiltAt.Format("2006-01-02 15:04:05 MST"))
			}
			return nil
		},
	}
}

func songLabel(id string, meta graph.NodeMeta) string {
	return fmt.Sprintf("%s - %s [%s]", meta.Name, meta.Artist, id)
}
