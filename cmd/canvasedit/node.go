/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"canvasedit/internal/domain"
	"canvasedit/internal/session"
	"canvasedit/internal/storage"
)

// localStore is the listing surface only the sqlite store offers.
type localStore interface {
	ListNodes(ctx context.Context) ([]storage.NodeInfo, error)
	DeleteNode(ctx context.Context, id string) error
}

func newNodeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Create, inspect and move nodes",
	}

	var (
		kind       string
		source     string
		background string
	)
	newCmd := &cobra.Command{
		Use:   "new [node-id]",
		Short: "Create a node; a random id is used when none is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := domain.ParseKind(kind)
			if err != nil {
				return err
			}
			id := uuid.NewString()
			if len(args) == 1 {
				id = args[0]
			}
			ctx := cmd.Context()
			be, err := session.OpenBackend(ctx, a.cfg.Storage)
			if err != nil {
				return err
			}
			defer be.Close()
			if _, err := be.LoadNode(ctx, id); err == nil {
				return fmt.Errorf("node %s already exists", id)
			}
			st := domain.NodeState{NodeID: id, Kind: k}
			if k == domain.KindSketch {
				st.Background.Color = domain.Color(background)
			}
			s, err := session.New(ctx, be, st, a.sessionOptions())
			if err != nil {
				return err
			}
			if source != "" {
				size, err := s.LoadSource(ctx, source)
				if err != nil {
					_ = s.Close(ctx)
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Source: %s (%gx%g)\n", source, size.W, size.H)
			}
			if err := s.Close(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s node %s\n", k, id)
			return nil
		},
	}
	newCmd.Flags().StringVar(&kind, "kind", string(domain.KindCrop), "Node kind: crop, sketch or filter")
	newCmd.Flags().StringVar(&source, "source", "", "Source image (crop and filter) or background image (sketch)")
	newCmd.Flags().StringVar(&background, "background", "#ffffff", "Background color of sketch nodes")

	showCmd := &cobra.Command{
		Use:   "show <node-id>",
		Short: "Print the durable state of a node as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			be, err := session.OpenBackend(ctx, a.cfg.Storage)
			if err != nil {
				return err
			}
			defer be.Close()
			st, err := be.LoadNode(ctx, args[0])
			if err != nil {
				return err
			}
			b, err := storage.MarshalNode(st)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}

	lsCmd := &cobra.Command{
		Use:   "ls",
		Short: "List nodes in the local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ls, closeFn, err := a.localStore(ctx)
			if err != nil {
				return err
			}
			defer closeFn()
			nodes, err := ls.ListNodes(ctx)
			if err != nil {
				return err
			}
			if len(nodes) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No nodes found.")
				return nil
			}
			for _, n := range nodes {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", n.ID, n.Kind, n.UpdatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	rmCmd := &cobra.Command{
		Use:   "rm <node-id>...",
		Short: "Remove nodes and their artifacts from the local store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ls, closeFn, err := a.localStore(ctx)
			if err != nil {
				return err
			}
			defer closeFn()
			var errs []error
			for _, id := range args {
				if err := ls.DeleteNode(ctx, id); err != nil {
					errs = append(errs, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed node '%s'\n", id)
			}
			return errors.Join(errs...)
		},
	}

	saveFileCmd := &cobra.Command{
		Use:   "save-file <node-id> <path>",
		Short: "Write a node to a JSON file, keeping a timestamped backup of the previous file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			be, err := session.OpenBackend(ctx, a.cfg.Storage)
			if err != nil {
				return err
			}
			defer be.Close()
			st, err := be.LoadNode(ctx, args[0])
			if err != nil {
				return err
			}
			if err := storage.SaveNodeFile(args[1], st); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved node %s to %s\n", st.NodeID, args[1])
			return nil
		},
	}

	openFileCmd := &cobra.Command{
		Use:   "open-file <path>",
		Short: "Import a node JSON file (falling back to its newest backup) into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := storage.OpenNodeFile(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			be, err := session.OpenBackend(ctx, a.cfg.Storage)
			if err != nil {
				return err
			}
			defer be.Close()
			if err := be.SaveNode(ctx, st); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %s node %s\n", st.Kind, st.NodeID)
			return nil
		},
	}

	cmd.AddCommand(newCmd, showCmd, lsCmd, rmCmd, saveFileCmd, openFileCmd)
	return cmd
}

func (a *app) localStore(ctx context.Context) (localStore, func(), error) {
	be, err := session.OpenBackend(ctx, a.cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	ls, ok := be.(localStore)
	if !ok {
		_ = be.Close()
		return nil, nil, fmt.Errorf("storage driver %q does not support listing", a.cfg.Storage.Driver)
	}
	return ls, func() { _ = be.Close() }, nil
}
